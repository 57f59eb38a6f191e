// Copyright (c) 2026 Sagaforge. All rights reserved.
// Author: dev@sagaforge.app

package slug_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sagaforge/sagaforge/pkg/slug"
)

func TestFrom(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "Kael of the Ashen Vale", "kael-of-the-ashen-vale"},
		{"accents", "Éowyn's Héritage", "eowyn-s-heritage"},
		{"punctuation", "The  Sundering!!", "the-sundering"},
		{"leading_trailing", "--Obsidian Gate--", "obsidian-gate"},
		{"digits", "Era 3: The Long Night", "era-3-the-long-night"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, slug.From(tt.input))
		})
	}
}
