package database

import (
	"context"
	"testing"

	"github.com/z3i0/MusicBot/pkg/logger"
)

func TestOpenRejectsBadOptions(t *testing.T) {
	tests := map[string]Options{
		"empty url":    {},
		"invalid port": {URL: "postgres://bot@localhost:notaport/music"},
	}
	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			if s, err := Open(context.Background(), opts, logger.Discard()); err == nil {
				s.Close()
				t.Fatal("expected an error")
			}
		})
	}
}

func TestMigrationsAreEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("no migrations embedded")
	}
}
