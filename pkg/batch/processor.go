// Package batch maps input files to output directories and unpacks each
// decoded file into single-frame slices.
package batch

import (
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"
	"github.com/suyashkumar/dicom"

	"dicomunpack/internal/models"
	"dicomunpack/pkg/manifest"
	"dicomunpack/pkg/mapper"
	"dicomunpack/pkg/reader"
	"dicomunpack/pkg/splitter"
	"dicomunpack/pkg/stats"
	"dicomunpack/pkg/telemetry"
	"dicomunpack/pkg/visualization"
)

// Metrics counts what a run did
type Metrics struct {
	// FilesMatched is the number of input files matched by the filter
	FilesMatched int

	// FilesProcessed is the number of files decoded and split
	FilesProcessed int

	// FilesSkipped is the number of files that could not be decoded
	FilesSkipped int

	// SlicesWritten is the total number of single-frame files written
	SlicesWritten int
}

// Recorder receives one telemetry event per input file
type Recorder interface {
	Record(ev telemetry.Event) error
}

// Params holds the batch parameters.
type Params struct {
	// InputDir is the directory searched for DICOM files
	InputDir string

	// OutputDir receives one slice directory per decoded input file
	OutputDir string

	// FileFilter is the input extension (e.g. "dcm") or a glob
	FileFilter string

	// SliceNameWidth is the minimum zero padding of slice indices
	SliceNameWidth int

	// WriteManifest writes a YAML manifest next to each slice directory
	WriteManifest bool

	// Preview, when set, also exports every slice as a raster image
	Preview *visualization.Options

	// Logger receives progress and diagnostics; nil disables logging
	Logger *zerolog.Logger

	// Recorder, when set, receives one event per input file
	Recorder Recorder
}

// Processor unpacks every matched input file, one file at a time
type Processor struct {
	params   *Params
	log      zerolog.Logger
	splitter *splitter.Splitter
	viewer   *visualization.Viewer
	metrics  Metrics
}

// NewProcessor creates a processor. It fails only on invalid preview options.
func NewProcessor(params *Params) (*Processor, error) {
	p := &Processor{
		params: params,
		log:    zerolog.Nop(),
		splitter: splitter.NewSplitter(splitter.Params{
			Extension: extensionOf(params.FileFilter),
			NameWidth: params.SliceNameWidth,
		}),
	}
	if params.Logger != nil {
		p.log = *params.Logger
	}
	if params.Preview != nil {
		viewer, err := visualization.NewViewer(*params.Preview)
		if err != nil {
			return nil, err
		}
		p.viewer = viewer
	}
	return p, nil
}

// Process runs the batch. Files that cannot be decoded are logged and
// skipped; any other failure stops the run and is returned.
func (p *Processor) Process() error {
	glob := mapper.GlobForFilter(p.params.FileFilter)
	pairs, err := mapper.FileMapper(p.params.InputDir, p.params.OutputDir, glob)
	if err != nil {
		return fmt.Errorf("failed to map input files: %w", err)
	}
	p.metrics.FilesMatched = len(pairs)
	p.log.Info().Int("files", len(pairs)).Str("glob", glob).Str("input", p.params.InputDir).Msg("matched input files")

	for _, pair := range pairs {
		if err := p.processFile(pair); err != nil {
			return err
		}
	}
	return nil
}

// GetMetrics returns the counters of the last run
func (p *Processor) GetMetrics() Metrics {
	return p.metrics
}

func (p *Processor) processFile(pair mapper.Pair) error {
	start := time.Now()
	sliceDir := p.splitter.OutputDir(pair.Output)

	result := reader.Read(pair.Input)
	if !result.OK() {
		p.metrics.FilesSkipped++
		p.log.Warn().Str("file", pair.Input).Err(result.Err).Msg("skipping file that could not be decoded")
		p.record(telemetry.Event{
			InputFile:  pair.Input,
			OutputDir:  sliceDir,
			Status:     telemetry.StatusSkipped,
			Message:    result.Err.Error(),
			DurationMS: time.Since(start).Milliseconds(),
		})
		return nil
	}

	slices, err := p.splitter.Split(result.Dataset, pair.Output)
	p.metrics.SlicesWritten += len(slices)
	if err != nil {
		p.record(telemetry.Event{
			InputFile:  pair.Input,
			OutputDir:  sliceDir,
			Status:     telemetry.StatusFailed,
			Slices:     len(slices),
			Message:    err.Error(),
			DurationMS: time.Since(start).Milliseconds(),
		})
		return fmt.Errorf("failed to split %s: %w", pair.Input, err)
	}

	volume := models.Volume{
		Source:         pair.Input,
		Dir:            sliceDir,
		NumberOfFrames: len(slices),
		Slices:         slices,
	}
	if err := p.describe(result.Dataset, volume); err != nil {
		return err
	}

	p.metrics.FilesProcessed++
	p.log.Info().Str("file", pair.Input).Str("dir", sliceDir).Int("slices", len(slices)).Msg("unpacked")
	p.record(telemetry.Event{
		InputFile:  pair.Input,
		OutputDir:  sliceDir,
		Status:     telemetry.StatusSplit,
		Slices:     len(slices),
		DurationMS: time.Since(start).Milliseconds(),
	})
	return nil
}

// describe writes the optional manifest and previews of a split volume.
func (p *Processor) describe(ds *dicom.Dataset, volume models.Volume) error {
	if !p.params.WriteManifest && p.viewer == nil {
		return nil
	}

	var summaries []*stats.Summary
	images, err := visualization.FrameImages(ds)
	if err != nil {
		// Compressed syntaxes without a Go image decoder land here
		p.log.Debug().Str("file", volume.Source).Err(err).Msg("frames cannot be rendered, statistics and previews skipped")
		images = nil
	}
	for _, img := range images {
		s := stats.Describe(img)
		summaries = append(summaries, &s)
	}

	if p.viewer != nil && len(images) == len(volume.Slices) {
		if err := p.exportPreviews(images, summaries, volume.Slices); err != nil {
			return fmt.Errorf("failed to export previews for %s: %w", volume.Source, err)
		}
	}

	if p.params.WriteManifest {
		path := manifest.PathFor(volume.Dir)
		if err := manifest.Save(manifest.New(volume, summaries), path); err != nil {
			return fmt.Errorf("failed to write manifest for %s: %w", volume.Source, err)
		}
		p.log.Debug().Str("manifest", path).Msg("wrote manifest")
	}
	return nil
}

func (p *Processor) exportPreviews(images []image.Image, summaries []*stats.Summary, slices []models.Slice) error {
	for i, img := range images {
		if err := p.viewer.Export(img, *summaries[i], p.viewer.PreviewPath(slices[i].Path)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) record(ev telemetry.Event) {
	if p.params.Recorder == nil {
		return
	}
	if err := p.params.Recorder.Record(ev); err != nil {
		p.log.Warn().Err(err).Msg("failed to record telemetry")
	}
}

// extensionOf returns the extension a plain filter such as "dcm" names, or
// the trailing "*.ext" of a glob.
func extensionOf(filter string) string {
	for i := len(filter) - 1; i >= 0; i-- {
		switch filter[i] {
		case '.':
			return filter[i+1:]
		case '*', '?', '/', ']', '}':
			return ""
		}
	}
	return filter
}
