package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
)

// peekHasImagesKey checks whether a JSON document carries a top-level
// "images" key. It inspects at most MaxPeekKeys keys and reads at most
// MaxPeekBytes bytes; it never parses the whole document. Hitting either
// bound before finding the key is an inconclusive false, not an error.
func (s *FolderScanner) peekHasImagesKey(ctx context.Context, path string) (bool, error) {
	rc, err := s.resolver.Open(ctx, path)
	if err != nil {
		return false, err
	}
	defer rc.Close()

	dec := json.NewDecoder(io.LimitReader(rc, s.cfg.MaxPeekBytes))

	tok, err := dec.Token()
	if err != nil {
		return false, nil // empty or truncated, not a dataset document
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return false, nil // top level is not an object
	}

	for i := 0; i < s.cfg.MaxPeekKeys && dec.More(); i++ {
		keyTok, err := dec.Token()
		if err != nil {
			return false, peekEOF(err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return false, nil
		}
		if key == "images" {
			return true, nil
		}
		if err := skipValue(dec); err != nil {
			return false, peekEOF(err)
		}
	}

	return false, nil
}

// skipValue consumes exactly one JSON value from the decoder, tracking
// delimiter depth so nested objects and arrays are skipped whole.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}

	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

// peekEOF converts the truncation errors produced by the byte limit into
// an inconclusive non-error.
func peekEOF(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return err
}
