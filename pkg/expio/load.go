package expio

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/abworrall/multifit/pkg/exposure"
)

// A Loader gathers exposures from files and directories.
type Loader struct {
	Verbosity int
	TIFF      TIFFOptions

	Exposures []*exposure.Exposure
}

// LoadFilesAndDirs recurses into directories; files it doesn't recognise are skipped.
func (l *Loader) LoadFilesAndDirs(args ...string) error {
	for _, arg := range args {
		item, err := os.Stat(arg)

		switch {

		case err != nil:
			return fmt.Errorf("load %s: %w", arg, err)

		case item.IsDir():
			// Is a dir, recurse into contents
			contents, err := os.ReadDir(arg)
			if err != nil {
				return fmt.Errorf("readdir %s: %w", arg, err)
			}
			names := []string{}
			for _, content := range contents {
				names = append(names, content.Name())
			}
			sort.Strings(names)
			for _, name := range names {
				if err := l.LoadFilesAndDirs(filepath.Join(arg, name)); err != nil {
					return fmt.Errorf("load %s: %w", arg, err)
				}
			}

		default: // is a file, load it
			if err := l.loadFile(arg); err != nil {
				return fmt.Errorf("loadfile %s: %w", arg, err)
			}
		}
	}

	return nil
}

func (l *Loader) loadFile(filename string) error {
	var exp *exposure.Exposure
	var err error

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".fits", ".fit", ".fts":
		exp, err = LoadFITS(filename)
	case ".tif", ".tiff":
		exp, err = LoadTIFF(filename, l.TIFF)
	default:
		if l.Verbosity > 1 {
			log.Printf("load: skipping %s\n", filename)
		}
		return nil
	}
	if err != nil {
		return err
	}

	if err := exp.Validate(); err != nil {
		return err
	}
	l.Exposures = append(l.Exposures, exp)
	if l.Verbosity > 0 {
		log.Printf("Loaded %s (%s)\n", exp, exp.ExposureTime)
	}
	return nil
}
