package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Retriever asks the archive to C-MOVE studies to local storage.
type Retriever struct {
	params Params
	runner Runner
	logger *slog.Logger
}

// NewRetriever creates a Retriever. A nil runner uses ExecRunner.
func NewRetriever(p Params, r Runner, logger *slog.Logger) *Retriever {
	if r == nil {
		r = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{params: p, runner: r, logger: logger}
}

// Fetch retrieves every instance of the given subject on studyDate. An empty
// subjectID retrieves the whole date. The returned string is movescu's
// output; on failure the error carries the diagnostic verbatim.
func (r *Retriever) Fetch(ctx context.Context, subjectID, studyDate string) (string, error) {
	if studyDate == "" {
		return "", errors.New("study date is required for retrieval")
	}
	args := r.moveArgs(subjectID, studyDate)

	ctx, cancel := r.params.withTimeout(ctx)
	defer cancel()

	r.logger.Debug("issuing C-MOVE",
		"component", "archive",
		"action", "move",
		"subject_id", subjectID,
		"study_date", studyDate,
	)

	stdout, stderr, err := r.runner.Run(ctx, r.params.MoveSCUPath, args...)
	if err != nil {
		diag := diagnostic(stdout, stderr)
		if diag == "" {
			return "", fmt.Errorf("movescu %s %s: %w", subjectID, studyDate, err)
		}
		return diag, fmt.Errorf("movescu %s %s: %w: %s", subjectID, studyDate, err, diag)
	}
	return strings.TrimSpace(string(stdout)), nil
}

func (r *Retriever) moveArgs(subjectID, studyDate string) []string {
	p := r.params
	args := []string{"-S"}
	args = append(args, p.peer()...)
	if p.MoveDestination != "" {
		args = append(args, "-aem", p.MoveDestination)
	}
	if p.ReceivePort > 0 {
		args = append(args, "--port", strconv.Itoa(p.ReceivePort))
	}
	if p.OutputDir != "" {
		args = append(args, "-od", p.OutputDir)
	}
	args = append(args, key(tagQueryRetrieveLevel, p.QueryLevel)...)
	if p.SOPClassUID != "" {
		args = append(args, key(tagSOPClassUID, p.SOPClassUID)...)
	}
	args = append(args, key(tagStudyDate, studyDate)...)
	if subjectID != "" {
		args = append(args, key(tagPatientID, subjectID)...)
	}
	return args
}
