package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/synaptica-ai/cardiorisk/pkg/loader"
)

// RunFiles opens both inputs from disk, choosing the reader by file extension.
func (p *Pipeline) RunFiles(ctx context.Context, notesPath, labsPath string) (*Result, error) {
	if notesPath == "" || labsPath == "" {
		return nil, fmt.Errorf("notes and labs paths are required")
	}
	notes, err := os.Open(filepath.Clean(notesPath))
	if err != nil {
		return nil, fmt.Errorf("opening notes: %w", err)
	}
	defer notes.Close()

	labs, err := os.Open(filepath.Clean(labsPath))
	if err != nil {
		return nil, fmt.Errorf("opening labs: %w", err)
	}
	defer labs.Close()

	return p.Run(ctx, Inputs{
		Notes:       notes,
		NotesFormat: loader.FormatFromPath(notesPath),
		Labs:        labs,
		LabsFormat:  loader.FormatFromPath(labsPath),
	})
}
