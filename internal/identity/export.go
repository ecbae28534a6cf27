package identity

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var linkCSVHeader = []string{"id", "person_id", "identity_id", "status", "confidence", "created_at"}

// WriteLinksCSV renders links as CSV. The header row is always written.
func WriteLinksCSV(w io.Writer, links []Link) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(linkCSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, link := range links {
		record := []string{
			link.ID,
			link.PersonID,
			link.IdentityID,
			string(link.Status),
			strconv.FormatFloat(link.Confidence, 'f', -1, 64),
			link.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %s: %w", link.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
