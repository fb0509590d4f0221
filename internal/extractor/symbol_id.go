package extractor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// BuildSymbolID creates a deterministic symbol ID.
// The fingerprint excludes line numbers so the ID survives edits that only
// shift a definition up or down in its file.
func BuildSymbolID(language string, sym *Symbol) string {
	if sym == nil {
		return ""
	}

	lang := strings.TrimSpace(language)
	if lang == "" {
		lang = "unknown"
	}

	kind := string(sym.Kind)
	if kind == "" {
		kind = "symbol"
	}

	name := strings.TrimSpace(sym.Name)
	if name == "" {
		name = "_"
	}

	parent := strings.TrimSpace(sym.Parent)
	if parent == "" {
		parent = "_"
	}

	fingerprint := strings.Join([]string{
		lang,
		sym.File,
		kind,
		parent,
		name,
	}, "|")

	sum := sha256.Sum256([]byte(fingerprint))
	short := hex.EncodeToString(sum[:8])
	return fmt.Sprintf("%s/%s:%s:%s", lang, kind, name, short)
}
