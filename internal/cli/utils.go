// Package cli provides output helpers for the relnotes command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/similarity"
	"github.com/mrboxtobox/obsidian-related-notes-sub001/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const titleWidth = 60

// ParseFormat returns the OutputFormat named by s. Unknown names are an error.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

// WriteRelated writes a related-documents response to w in the given format.
func WriteRelated(w io.Writer, response *models.RelatedResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nDocuments related to %s: %d found in %dms", response.ID, response.Total, response.QueryTime)
	switch {
	case response.Sampled && response.Relaxed:
		fmt.Fprint(w, " (sampled corpus, relaxed parameters)")
	case response.Sampled:
		fmt.Fprint(w, " (sampled corpus)")
	case response.Relaxed:
		fmt.Fprint(w, " (relaxed parameters)")
	}
	fmt.Fprintln(w)
	if len(response.Results) == 0 {
		fmt.Fprintln(w, "No related documents.")
		return nil
	}
	fmt.Fprintln(w)
	for _, r := range response.Results {
		fmt.Fprintf(w, "%3d. %5.1f%%  %s\n", r.Rank, r.DisplayScore*100, r.ID)
		if r.Title != "" {
			fmt.Fprintf(w, "            %s\n", utils.Truncate(r.Title, titleWidth))
		}
	}
	return nil
}

// PrintRelated prints a related-documents response to stdout as text.
func PrintRelated(response *models.RelatedResponse) {
	_ = WriteRelated(os.Stdout, response, OutputText)
}

// WriteStats writes engine statistics to w in the given format.
func WriteStats(w io.Writer, stats similarity.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Family:          %s\n", stats.Family)
	fmt.Fprintf(w, "Documents:       %d\n", stats.Documents)
	switch {
	case stats.Bands > 0:
		fmt.Fprintf(w, "Banding:         %d bands x %d rows\n", stats.Bands, stats.Rows)
	case stats.MaxDistance > 0:
		fmt.Fprintf(w, "Max distance:    %d bits\n", stats.MaxDistance)
	}
	fmt.Fprintf(w, "Buckets:         %d (max %d, avg %.2f)\n",
		stats.Index.Buckets, stats.Index.MaxBucketSize, stats.Index.AvgBucketSize)
	fmt.Fprintf(w, "Cached pairs:    %d (%d hits, %d misses)\n", stats.CacheEntries, stats.CacheHits, stats.CacheMisses)
	fmt.Fprintf(w, "On-demand adds:  %d\n", stats.OnDemandAdds)
	fmt.Fprintf(w, "Sampled:         %t\n", stats.Sampled)
	fmt.Fprintf(w, "Relaxed:         %t\n", stats.Relaxed)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
