package db

import (
	"regexp"
	"strconv"
	"testing"

	"github.com/quarry0/quarry/internal/genai"
)

// The embed bridge truncates vectors to genai.EmbeddingDimension; the
// chunks schema must declare the same width or every insert fails.
func TestChunksSchemaMatchesEmbeddingDimension(t *testing.T) {
	sql, err := migrationsFS.ReadFile("migrations/000001_create_chunks.up.sql")
	if err != nil {
		t.Fatalf("reading embedded migration: %v", err)
	}

	m := regexp.MustCompile(`embedding vector\((\d+)\)`).FindStringSubmatch(string(sql))
	if m == nil {
		t.Fatal("no vector column declaration found in chunks migration")
	}
	dim, err := strconv.Atoi(m[1])
	if err != nil {
		t.Fatalf("parsing vector width %q: %v", m[1], err)
	}

	if dim != int(genai.EmbeddingDimension) {
		t.Errorf("schema declares vector(%d), embed bridge requests %d", dim, genai.EmbeddingDimension)
	}
}

func TestConvertToMigrateURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "postgres scheme", in: "postgres://u:p@localhost:5432/quarry?sslmode=disable", want: "pgx5://u:p@localhost:5432/quarry?sslmode=disable"},
		{name: "postgresql scheme", in: "postgresql://u:p@localhost/quarry", want: "pgx5://u:p@localhost/quarry"},
		{name: "unsupported scheme", in: "mysql://localhost/quarry", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertToMigrateURL(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("convertToMigrateURL(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("convertToMigrateURL(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
			}
		})
	}
}
