package utils

import (
	"fmt"

	"github.com/speps/go-hashids/v2"
)

// SlugEncoder turns table ids into short URL-safe slugs for QR links.
type SlugEncoder struct {
	h *hashids.HashID
}

func NewSlugEncoder(salt string, minLength int) (*SlugEncoder, error) {
	hd := hashids.NewData()
	hd.Salt = salt
	hd.MinLength = minLength
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, fmt.Errorf("init hashids: %w", err)
	}
	return &SlugEncoder{h: h}, nil
}

// Encode returns a slug for the given numbers (table id, optionally a rotation nonce).
func (s *SlugEncoder) Encode(nums ...int64) (string, error) {
	return s.h.EncodeInt64(nums)
}

func (s *SlugEncoder) Decode(slug string) ([]int64, error) {
	return s.h.DecodeInt64WithError(slug)
}
