// Package proof stores deposit payment screenshots and returns a URL for them.
package proof

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"cashforge/internal/economy"
)

// MaxBytes caps one upload.
const MaxBytes = 8 << 20

var extensions = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

type Store interface {
	Put(ctx context.Context, accountID, contentType string, r io.Reader) (string, error)
}

// object is an upload that passed validation, keyed by account and content hash.
type object struct {
	key         string
	contentType string
	data        []byte
}

func prepare(accountID, contentType string, r io.Reader) (object, error) {
	contentType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	ext, ok := extensions[contentType]
	if !ok {
		return object{}, fmt.Errorf("%w: unsupported proof type %q", economy.ErrInvalidInput, contentType)
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" || strings.ContainsAny(accountID, `/\.`) {
		return object{}, fmt.Errorf("%w: bad account id", economy.ErrInvalidInput)
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxBytes+1))
	if err != nil {
		return object{}, fmt.Errorf("read proof: %w", err)
	}
	if len(data) == 0 {
		return object{}, fmt.Errorf("%w: empty proof", economy.ErrInvalidInput)
	}
	if len(data) > MaxBytes {
		return object{}, fmt.Errorf("%w: proof larger than %d bytes", economy.ErrInvalidInput, MaxBytes)
	}
	sum := sha256.Sum256(data)
	return object{
		key:         "proofs/" + accountID + "/" + hex.EncodeToString(sum[:]) + ext,
		contentType: contentType,
		data:        data,
	}, nil
}

func (o object) reader() io.Reader {
	return bytes.NewReader(o.data)
}
