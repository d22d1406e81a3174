package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// GetInt reads a base-10 integer.
func GetInt(ctx context.Context, s Store, key string) (int, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, errors.Join(ErrInvalidValue, fmt.Errorf("%s: %w", key, err))
	}
	return n, nil
}

func SetInt(ctx context.Context, s Store, key string, v int) error {
	return s.Set(ctx, key, []byte(strconv.Itoa(v)))
}

// GetBool reads a value written by SetBool.
func GetBool(ctx context.Context, s Store, key string) (bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(string(raw))
	if err != nil {
		return false, errors.Join(ErrInvalidValue, fmt.Errorf("%s: %w", key, err))
	}
	return b, nil
}

func SetBool(ctx context.Context, s Store, key string, v bool) error {
	return s.Set(ctx, key, []byte(strconv.FormatBool(v)))
}

func GetString(ctx context.Context, s Store, key string) (string, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func SetString(ctx context.Context, s Store, key, v string) error {
	return s.Set(ctx, key, []byte(v))
}

// GetTime reads a timestamp stored as Unix epoch milliseconds.
func GetTime(ctx context.Context, s Store, key string) (time.Time, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, errors.Join(ErrInvalidValue, fmt.Errorf("%s: %w", key, err))
	}
	return time.UnixMilli(ms), nil
}

// SetTime stores t as Unix epoch milliseconds.
func SetTime(ctx context.Context, s Store, key string, t time.Time) error {
	return s.Set(ctx, key, []byte(strconv.FormatInt(t.UnixMilli(), 10)))
}

// GetJSON decodes a JSON blob into a value of type T.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, error) {
	var v T
	raw, err := s.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, errors.Join(ErrInvalidValue, fmt.Errorf("%s: %w", key, err))
	}
	return v, nil
}

func SetJSON[T any](ctx context.Context, s Store, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstore: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
