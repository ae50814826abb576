package chunker

import "fmt"

// ConfigError reports invalid chunking parameters. It is returned before
// any work is done so a bad configuration never produces partial output.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "chunker: " + e.Reason }

// Chunk splits text into windows of size characters advancing by
// size-overlap each step. The final remainder is appended as one trailing
// chunk, so concatenating the chunks with overlaps removed reconstructs
// the input exactly. Windows count runes, not bytes, so a boundary never
// lands inside a multi-byte character. Pure function: same input always
// yields the same chunk sequence.
func Chunk(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("chunk size must be > 0, got %d", size)}
	}
	if overlap < 0 || overlap >= size {
		return nil, &ConfigError{Reason: fmt.Sprintf("overlap must be in [0, size), got overlap=%d size=%d", overlap, size)}
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}, nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))

		start = end - overlap

		// Remaining text shorter than one window becomes the last chunk.
		if len(runes)-start < size {
			if start < len(runes) {
				chunks = append(chunks, string(runes[start:]))
			}
			break
		}
	}
	return chunks, nil
}
