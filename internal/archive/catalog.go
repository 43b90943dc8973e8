// Package archive talks to the remote DICOM archive through the dcmtk
// findscu and movescu tools.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/studysync/internal/types"
	"github.com/hyperengineering/studysync/internal/window"
)

// DICOM attribute tags used in query and retrieve keys.
const (
	tagQueryRetrieveLevel = "0008,0052"
	tagSOPClassUID        = "0008,0016"
	tagStudyDate          = "0008,0020"
	tagModality           = "0008,0060"
	tagPatientName        = "0010,0010"
	tagPatientID          = "0010,0020"
)

// Params holds the connection parameters shared by query and retrieve.
type Params struct {
	Host            string
	Port            int
	AETitle         string
	CallingAETitle  string
	MoveDestination string
	ReceivePort     int
	OutputDir       string
	QueryLevel      string
	SOPClassUID     string
	Modality        string
	FindSCUPath     string
	MoveSCUPath     string
	Timeout         time.Duration
}

func (p Params) peer() []string {
	return []string{
		"-aet", p.CallingAETitle,
		"-aec", p.AETitle,
		p.Host, strconv.Itoa(p.Port),
	}
}

func (p Params) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.Timeout)
}

func key(tag, value string) []string {
	return []string{"-k", tag + "=" + value}
}

// CatalogClient lists the studies the archive holds for a date window.
type CatalogClient struct {
	params Params
	runner Runner
	logger *slog.Logger
}

// NewCatalogClient creates a CatalogClient. A nil runner uses ExecRunner.
func NewCatalogClient(p Params, r Runner, logger *slog.Logger) *CatalogClient {
	if r == nil {
		r = ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogClient{params: p, runner: r, logger: logger}
}

// Query issues one C-FIND over the window and returns every pending response
// as a raw identity. Duplicates are kept. Any failure to run the query is a
// *ConnectivityError.
func (c *CatalogClient) Query(ctx context.Context, w window.Window) ([]types.RawIdentity, error) {
	dir, err := os.MkdirTemp("", "studysync-find-")
	if err != nil {
		return nil, fmt.Errorf("create response directory: %w", err)
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "responses.xml")
	args := c.findArgs(w, out)

	ctx, cancel := c.params.withTimeout(ctx)
	defer cancel()

	c.logger.Debug("issuing C-FIND",
		"component", "archive",
		"action", "find",
		"range", w.Range(),
		"args", strings.Join(args, " "),
	)

	stdout, stderr, err := c.runner.Run(ctx, c.params.FindSCUPath, args...)
	if err != nil {
		return nil, c.connectivityError(err, stdout, stderr)
	}

	f, err := os.Open(out)
	if err != nil {
		if os.IsNotExist(err) {
			// findscu writes no file when there were no pending responses.
			return nil, nil
		}
		return nil, fmt.Errorf("open responses: %w", err)
	}
	defer f.Close()

	records, err := ParseResponses(f)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (c *CatalogClient) findArgs(w window.Window, out string) []string {
	p := c.params
	args := []string{"-S"}
	args = append(args, p.peer()...)
	args = append(args, key(tagQueryRetrieveLevel, p.QueryLevel)...)
	args = append(args, key(tagPatientName, "*")...)
	args = append(args, key(tagPatientID, "*")...)
	args = append(args, key(tagStudyDate, w.Range())...)
	if p.SOPClassUID != "" {
		args = append(args, key(tagSOPClassUID, p.SOPClassUID)...)
	}
	if p.Modality != "" {
		args = append(args, key(tagModality, p.Modality)...)
	}
	return append(args, "-Xs", out)
}

func (c *CatalogClient) connectivityError(err error, stdout, stderr []byte) error {
	return &ConnectivityError{
		Host:       c.params.Host,
		Port:       c.params.Port,
		AETitle:    c.params.AETitle,
		Diagnostic: diagnostic(stdout, stderr),
		Err:        err,
	}
}

// diagnostic picks the most useful output stream of a dcmtk run.
func diagnostic(stdout, stderr []byte) string {
	if s := strings.TrimSpace(string(stderr)); s != "" {
		return s
	}
	return strings.TrimSpace(string(stdout))
}
