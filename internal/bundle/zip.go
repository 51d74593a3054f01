package bundle

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"time"
)

// fixedZipTime makes archives byte-for-byte reproducible (1980-01-01 UTC).
var fixedZipTime = time.Unix(315532800, 0).UTC()

// ensureUnique returns name, or name with -1, -2, ... before the extension
// when it is already taken.
func ensureUnique(name string, used map[string]struct{}) string {
	if _, ok := used[name]; !ok {
		used[name] = struct{}{}
		return name
	}
	base, ext := name, ""
	if i := strings.LastIndex(name, "."); i > strings.LastIndex(name, "/")+1 {
		base, ext = name[:i], name[i:]
	}
	for n := 1; ; n++ {
		alt := fmt.Sprintf("%s-%d%s", base, n, ext)
		if _, ok := used[alt]; !ok {
			used[alt] = struct{}{}
			return alt
		}
	}
}

func writeZip(members []member) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, m := range members {
		h := &zip.FileHeader{Name: m.name, Method: zip.Deflate}
		h.SetMode(0o644)
		h.Modified = fixedZipTime
		w, err := zw.CreateHeader(h)
		if err != nil {
			zw.Close()
			return nil, fmt.Errorf("create %s: %w", m.name, err)
		}
		if _, err := w.Write(m.data); err != nil {
			zw.Close()
			return nil, fmt.Errorf("write %s: %w", m.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}
