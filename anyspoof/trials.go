// Package anyspoof loads ASVspoof trial lists and audio,
// and turns them into batches for training and scoring.
package anyspoof

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/unixpickle/essentials"
)

// Protocol identifies the layout of a trial list.
type Protocol int

const (
	// Protocol2019 lists "speaker utt system tag label".
	Protocol2019 Protocol = iota

	// Protocol2021 lists the 2021 trial metadata, where the
	// utterance is in column 2 and the key in column 6.
	Protocol2021
)

// Label values used in batches.
const (
	LabelSpoof    = 0
	LabelBonafide = 1
)

// A Trial is one line of a trial list.
type Trial struct {
	Speaker string
	UttID   string
	System  string
	Tag     string
	Key     string
}

// Label returns LabelBonafide for bona fide trials and
// LabelSpoof otherwise.
func (t *Trial) Label() int {
	if t.Key == "bonafide" {
		return LabelBonafide
	}
	return LabelSpoof
}

// ParseTrial parses a single trial line.
func ParseTrial(line string, p Protocol) (*Trial, error) {
	fields := strings.Fields(line)
	switch p {
	case Protocol2019:
		if len(fields) != 5 {
			return nil, fmt.Errorf("parse trial: expected 5 fields but got %d", len(fields))
		}
		return &Trial{
			Speaker: fields[0],
			UttID:   fields[1],
			System:  fields[2],
			Tag:     fields[3],
			Key:     fields[4],
		}, nil
	case Protocol2021:
		if len(fields) < 6 {
			return nil, fmt.Errorf("parse trial: expected at least 6 fields but got %d",
				len(fields))
		}
		return &Trial{
			Speaker: fields[0],
			UttID:   fields[1],
			System:  fields[4],
			Key:     fields[5],
		}, nil
	default:
		return nil, fmt.Errorf("parse trial: unknown protocol %d", p)
	}
}

// ReadTrials parses every non-empty line of a trial list.
func ReadTrials(r io.Reader, p Protocol) ([]*Trial, error) {
	var res []*Trial
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		trial, err := ParseTrial(line, p)
		if err != nil {
			return nil, essentials.AddCtx(fmt.Sprintf("line %d", lineNum), err)
		}
		res = append(res, trial)
	}
	if err := scanner.Err(); err != nil {
		return nil, essentials.AddCtx("read trials", err)
	}
	return res, nil
}

// ReadTrialsFile parses a trial list from a file.
func ReadTrialsFile(path string, p Protocol) ([]*Trial, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, essentials.AddCtx("read trials", err)
	}
	defer f.Close()
	res, err := ReadTrials(f, p)
	if err != nil {
		return nil, essentials.AddCtx(path, err)
	}
	return res, nil
}

// ProtocolPath returns the path of a 2019 trial list for a
// track ("LA", "PA" or "DF") and a split ("train", "dev" or
// "eval") below a protocol root.
func ProtocolPath(root, track, split string) string {
	return filepath.Join(root,
		fmt.Sprintf("ASVspoof2019_%s_cm_protocols", track),
		fmt.Sprintf("partASVspoof2019.%s.cm.%s.trl.txt", track, split))
}

// Protocol2021Path returns the path of the 2021 trial
// metadata for a track below a protocol root.
func Protocol2021Path(root, track string) string {
	return filepath.Join(root,
		fmt.Sprintf("ASVspoof2021_%s_cm_protocols", track),
		"trial_metadata.txt")
}
