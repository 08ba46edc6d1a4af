// Package export writes result sets in the download format.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rizkirmdhn/beasiswa/internal/common/config"
	"github.com/rizkirmdhn/beasiswa/pkg/models"
	"github.com/rizkirmdhn/beasiswa/pkg/utils"
)

// ContentType is served with CSV downloads
const ContentType = "text/csv; charset=utf-8"

// WriteCSV writes the header row followed by one row per record
func WriteCSV(w io.Writer, records []models.Scholarship) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(models.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range records {
		if err := cw.Write(r.Row()); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Path resolves the output file from config, or out when it is set
func Path(cfg *config.ExportConfig, out string) string {
	if out != "" {
		return out
	}
	return filepath.Join(cfg.Dir, cfg.FileName)
}

// SaveCSV writes records to path, replacing any previous file
func SaveCSV(path string, records []models.Scholarship) error {
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		return WriteCSV(w, records)
	})
}
