package ecu

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marcinbor85/gohex"
	"go.uber.org/zap"

	"scantool/pkg/log"
)

// LoadFirmware reads a firmware image. Intel HEX files (.hex, .ihx)
// are flattened into one contiguous image with 0xFF gap fill; anything
// else is treated as a raw binary.
func LoadFirmware(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihx":
		return loadIntelHex(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read firmware: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("firmware file %s is empty", path)
	}
	log.Info("firmware loaded", zap.String("path", path), zap.Int("bytes", len(data)))
	return data, nil
}

func loadIntelHex(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open firmware: %w", err)
	}
	defer f.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(f); err != nil {
		return nil, fmt.Errorf("parse intel hex %s: %w", path, err)
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, fmt.Errorf("no data segments in %s", path)
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Address < segments[j].Address })

	base := segments[0].Address
	last := segments[len(segments)-1]
	size := int(last.Address-base) + len(last.Data)

	image := make([]byte, size)
	for i := range image {
		image[i] = 0xFF
	}
	for _, seg := range segments {
		copy(image[seg.Address-base:], seg.Data)
	}

	log.Info("firmware loaded",
		zap.String("path", path),
		zap.Int("segments", len(segments)),
		zap.Int("bytes", size))
	return image, nil
}
