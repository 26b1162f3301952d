// Command gazetteer-import loads admin levels, locations, and gazetteer
// entries from CSV files into the resolver database. Locations must be
// imported parents-first so geo_id hierarchy references resolve.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/couchcryptid/location-resolver/internal/domain"
	"github.com/couchcryptid/location-resolver/internal/gazetteer"
)

func main() {
	var (
		dbPath   = flag.String("db", "locations.db", "path to the gazetteer database")
		file     = flag.String("file", "", "CSV file to import (defaults to stdin)")
		mode     = flag.String("mode", "locations", "what the CSV contains: locations or entries")
		enc      = flag.String("encoding", "utf-8", "source file character encoding")
		levels   = flag.String("levels", "", "seed admin levels, e.g. 0=Country,1=State,2=Locality")
		logLevel = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger := newLogger(*logLevel)
	ctx := context.Background()

	store, err := gazetteer.Open(*dbPath, clockwork.NewRealClock())
	if err != nil {
		logger.Error("open store failed", "error", err, "path", *dbPath)
		os.Exit(1)
	}
	defer store.Close()

	if *levels != "" {
		if err := seedAdminLevels(ctx, store, *levels); err != nil {
			logger.Error("seed admin levels failed", "error", err)
			os.Exit(1)
		}
	}

	in, closeIn, err := openInput(*file, *enc)
	if err != nil {
		logger.Error("open input failed", "error", err)
		os.Exit(1)
	}
	defer closeIn()

	var imported int
	switch *mode {
	case "locations":
		imported, err = importLocations(ctx, store, in, logger)
	case "entries":
		imported, err = importEntries(ctx, store, in, logger)
	default:
		logger.Error("unknown mode", "mode", *mode)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("import failed", "error", err, "imported", imported)
		os.Exit(1)
	}
	logger.Info("import complete", "mode", *mode, "imported", imported)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// openInput opens the CSV source and wraps it in a decoder for non-UTF-8
// encodings, using the WHATWG encoding registry for names.
func openInput(path, enc string) (io.Reader, func() error, error) {
	var r io.Reader = os.Stdin
	closeFn := func() error { return nil }
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		r = f
		closeFn = f.Close
	}

	if !strings.EqualFold(enc, "utf-8") {
		e, err := htmlindex.Get(enc)
		if err != nil {
			return nil, nil, fmt.Errorf("unknown encoding %q: %w", enc, err)
		}
		r = transform.NewReader(r, e.NewDecoder())
	}
	return r, closeFn, nil
}

// seedAdminLevels parses "code=Name" pairs and inserts them.
func seedAdminLevels(ctx context.Context, store *gazetteer.Store, spec string) error {
	for _, pair := range strings.Split(spec, ",") {
		code, name, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return fmt.Errorf("bad level spec %q", pair)
		}
		n, err := strconv.Atoi(code)
		if err != nil {
			return fmt.Errorf("bad level code %q: %w", code, err)
		}
		if err := store.CreateAdminLevel(ctx, domain.AdminLevel{Code: n, Name: name}); err != nil {
			return err
		}
	}
	return nil
}

// importLocations reads rows of
// geo_id,name,local_name,admin_level,parent_geo_id,lat,lon,point_type.
// Rows that fail validation are logged and skipped.
func importLocations(ctx context.Context, store *gazetteer.Store, in io.Reader, logger *slog.Logger) (int, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = 8

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if header[0] != "geo_id" {
		return 0, fmt.Errorf("unexpected header %q, want geo_id first", header[0])
	}

	n := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read row: %w", err)
		}

		loc, err := locationFromRow(ctx, store, row)
		if err != nil {
			logger.Warn("skipping row", "geo_id", row[0], "error", err)
			continue
		}
		if err := store.CreateLocation(ctx, loc); err != nil {
			logger.Warn("skipping row", "geo_id", row[0], "error", err)
			continue
		}
		n++
	}
}

func locationFromRow(ctx context.Context, store *gazetteer.Store, row []string) (*domain.Location, error) {
	level, err := strconv.Atoi(row[3])
	if err != nil {
		return nil, fmt.Errorf("bad admin_level %q: %w", row[3], err)
	}

	loc := &domain.Location{
		GeoID:      strings.TrimSpace(row[0]),
		Name:       strings.TrimSpace(row[1]),
		LocalName:  strings.TrimSpace(row[2]),
		AdminLevel: domain.AdminLevel{Code: level},
		PointType:  strings.TrimSpace(row[7]),
	}

	if parentGeoID := strings.TrimSpace(row[4]); parentGeoID != "" {
		parent, err := store.LocationByGeoID(ctx, parentGeoID, gazetteer.Constraints{})
		if err != nil {
			return nil, fmt.Errorf("parent %q: %w", parentGeoID, err)
		}
		loc.ParentID = &parent.ID
	}

	if loc.Lat, err = optionalFloat(row[5]); err != nil {
		return nil, fmt.Errorf("bad lat %q: %w", row[5], err)
	}
	if loc.Lon, err = optionalFloat(row[6]); err != nil {
		return nil, fmt.Errorf("bad lon %q: %w", row[6], err)
	}
	return loc, nil
}

// importEntries reads rows of geo_id,source,code,name and attaches each as a
// gazetteer entry on the referenced location.
func importEntries(ctx context.Context, store *gazetteer.Store, in io.Reader, logger *slog.Logger) (int, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = 4

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if header[0] != "geo_id" {
		return 0, fmt.Errorf("unexpected header %q, want geo_id first", header[0])
	}

	n := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read row: %w", err)
		}

		loc, err := store.LocationByGeoID(ctx, strings.TrimSpace(row[0]), gazetteer.Constraints{})
		if err != nil {
			logger.Warn("skipping entry", "geo_id", row[0], "error", err)
			continue
		}
		entry := &domain.GazetteerEntry{
			LocationID: loc.ID,
			Source:     strings.TrimSpace(row[1]),
			Code:       strings.TrimSpace(row[2]),
			Name:       strings.TrimSpace(row[3]),
		}
		if err := store.CreateGazetteerEntry(ctx, entry); err != nil {
			logger.Warn("skipping entry", "geo_id", row[0], "error", err)
			continue
		}
		n++
	}
}

func optionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
