package config

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/AlekSi/pointer"
	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
)

// ParseError reports the line number and text of a malformed mirror.list
// entry.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return "config: line " + strconv.Itoa(e.Line) + ": " + e.Err.Error() + ": " + e.Text
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errNotDebLine    = errors.New("not a \"deb\" line")
	errMissingFields = errors.New("expected URL SUITE COMPONENT [COMPONENT...]")
	errUnknownOption = errors.New("unknown option")
	errMalformedOpt  = errors.New("malformed option, expected key=value")
)

// Entry is one parsed mirror.list line before CLI-level defaults are
// merged in: the pgp_verify/udeb options are *bool so "absent" is
// distinguishable from "explicitly false" once Resolve merges them
// against the CLI-level defaults.
type Entry struct {
	ArchiveRoot            string
	Suite                  string
	Components             []string
	Architectures          []string
	InstallerArchitectures []string
	WantUdeb               *bool
	PGPVerify              *bool
	PGPPubKeyPath          string
}

// ParseList reads a sources.list-compatible mirror.list from r: one
// repository per "deb [opt=val ...] URL SUITE COMPONENT [COMPONENT...]"
// line. Blank lines and lines starting with "#" are skipped.
// Tokenization of the "[opt=val ...]" bracket and the remaining
// whitespace-separated fields uses shellwords so quoted values survive,
// e.g. pgp_pub_key="/etc/apt keys/x.gpg".
func ParseList(r io.Reader) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		entry, err := parseLine(text)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: text, Err: err}
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "config: reading mirror.list")
	}

	return entries, nil
}

func parseLine(text string) (Entry, error) {
	fields, err := shellwords.Parse(text)
	if err != nil {
		return Entry{}, errors.Wrap(err, "tokenizing line")
	}
	if len(fields) == 0 || fields[0] != "deb" {
		return Entry{}, errNotDebLine
	}
	fields = fields[1:]

	var entry Entry
	for len(fields) > 0 && strings.Contains(fields[0], "=") {
		opt := fields[0]
		fields = fields[1:]

		key, val, ok := strings.Cut(opt, "=")
		if !ok || key == "" {
			return Entry{}, errMalformedOpt
		}

		switch key {
		case "arch":
			entry.Architectures = append(entry.Architectures, val)
		case "di_arch":
			entry.InstallerArchitectures = append(entry.InstallerArchitectures, val)
		case "udeb":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return Entry{}, errors.Wrapf(err, "udeb=%s", val)
			}
			entry.WantUdeb = pointer.ToBool(b)
		case "pgp_verify":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return Entry{}, errors.Wrapf(err, "pgp_verify=%s", val)
			}
			entry.PGPVerify = pointer.ToBool(b)
		case "pgp_pub_key":
			entry.PGPPubKeyPath = val
			entry.PGPVerify = pointer.ToBool(true)
		default:
			return Entry{}, errors.Wrapf(errUnknownOption, "%q", key)
		}
	}

	if len(fields) < 3 {
		return Entry{}, errMissingFields
	}
	entry.ArchiveRoot = fields[0]
	entry.Suite = fields[1]
	entry.Components = fields[2:]

	return entry, nil
}

// Resolve merges an Entry's tri-state options against CLI-level
// defaults to produce a concrete Repository: an option left absent in
// the mirror.list line falls back to defaultUdeb/defaultPGPVerify,
// an option explicitly set in the line always wins.
func (e Entry) Resolve(defaultUdeb, defaultPGPVerify bool) Repository {
	architectures := e.Architectures
	if len(architectures) == 0 {
		// A mirror.list line with no arch= option mirrors amd64 only, not
		// every architecture the Release happens to advertise.
		architectures = []string{"amd64"}
	}

	r := Repository{
		ArchiveRoot:            e.ArchiveRoot,
		Suite:                  e.Suite,
		Components:             e.Components,
		Architectures:          architectures,
		InstallerArchitectures: e.InstallerArchitectures,
		WantUdeb:               defaultUdeb,
		PGPVerify:              defaultPGPVerify,
		PGPPubKeyPath:          e.PGPPubKeyPath,
	}
	if e.WantUdeb != nil {
		r.WantUdeb = *e.WantUdeb
	}
	if e.PGPVerify != nil {
		r.PGPVerify = *e.PGPVerify
	}
	return r
}
