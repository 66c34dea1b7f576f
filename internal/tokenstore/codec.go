package tokenstore

import (
	"fmt"

	"github.com/teemow/jarvis/internal/google"
)

func encode(rec *google.TokenRecord, enc *Encryptor) ([]byte, error) {
	data, err := google.MarshalRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token record: %w", err)
	}
	return enc.Seal(data)
}

func decode(data []byte, enc *Encryptor) (*google.TokenRecord, error) {
	plain, err := enc.Open(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", google.ErrCorruptToken, err)
	}
	return google.UnmarshalRecord(plain)
}
