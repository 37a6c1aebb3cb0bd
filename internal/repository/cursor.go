package repository

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"example.com/walks/internal/domain"
)

// Cursor marks a position in the newest-first walk listing. The ID breaks
// ties between walks created in the same instant.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// EncodeCursor serialises the cursor to a string token.
func EncodeCursor(c *Cursor) string {
	if c == nil {
		return ""
	}
	raw := fmt.Sprintf("%s|%s", c.CreatedAt.UTC().Format(time.RFC3339Nano), c.ID)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses the encoded cursor token. An empty token is a nil
// cursor, meaning the start of the listing.
func DecodeCursor(token string) (*Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, domain.Wrap(domain.KindInvalidData, "decode cursor", err)
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return nil, domain.E(domain.KindInvalidData, "invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, domain.Wrap(domain.KindInvalidData, "invalid cursor timestamp", err)
	}
	return &Cursor{CreatedAt: ts, ID: parts[1]}, nil
}

// Page slices a newest-first walk listing at the cursor, returning at most
// limit walks and the cursor for the next page (nil when exhausted).
func Page(walks []domain.Walk, cursor *Cursor, limit int) ([]domain.Walk, *Cursor) {
	start := 0
	if cursor != nil {
		start = len(walks)
		for i, w := range walks {
			if w.CreatedAt.Before(cursor.CreatedAt) ||
				(w.CreatedAt.Equal(cursor.CreatedAt) && w.ID < cursor.ID) {
				start = i
				break
			}
		}
	}

	if limit <= 0 || start+limit >= len(walks) {
		return walks[start:], nil
	}

	page := walks[start : start+limit]
	last := page[len(page)-1]
	return page, &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
}
