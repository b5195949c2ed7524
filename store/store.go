// Package store is the key-value persistence seam. Every backend must make a
// single SetItem atomic; the pending transaction manager relies on it.
package store

import (
	"context"
	"errors"

	jsoniter "github.com/json-iterator/go"
)

var ErrNotFound = errors.New("not found")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is a minimal key-value store. GetItem returns ErrNotFound for a
// missing key.
type Store interface {
	HasItem(ctx context.Context, key string) (bool, error)
	GetItem(ctx context.Context, key string) ([]byte, error)
	SetItem(ctx context.Context, key string, value []byte) error
	RemoveItem(ctx context.Context, key string) error
	Close() error
}

// GetJSON decodes the value at key into a T. The boolean is false when the
// key is missing.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var v T
	raw, err := s.GetItem(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

func SetJSON[T any](ctx context.Context, s Store, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SetItem(ctx, key, raw)
}
