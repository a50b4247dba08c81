package anyeval

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/unixpickle/essentials"
)

// An Oracle computes the EER (in percent) and the minimum
// t-DCF of a CM score file, writing a report to outPath.
type Oracle interface {
	Compute(scorePath, outPath string) (eer, tdcf float64, err error)
}

// TDCFOracle scores a CM with the ASVspoof 2019 legacy
// t-DCF against fixed ASV scores.
type TDCFOracle struct {
	// ASVScorePath lists "speaker key score" lines, where
	// key is target, nontarget or spoof.
	ASVScorePath string

	// Cost is the t-DCF cost model.
	// If it is nil, CostModel2019 is used.
	Cost *CostModel
}

// Compute reads a score file with "utt tag label score"
// lines and computes the CM EER and min t-DCF.
//
// The report lists the pooled metrics followed by the EER
// for every attack tag in the score file.
func (t *TDCFOracle) Compute(scorePath, outPath string) (eer, tdcf float64, err error) {
	eer, tdcf, err = t.compute(scorePath, outPath)
	if err != nil {
		return 0, 0, essentials.AddCtx("compute t-DCF", err)
	}
	return eer, tdcf, nil
}

func (t *TDCFOracle) compute(scorePath, outPath string) (float64, float64, error) {
	asv, err := readColumns(t.ASVScorePath, 1, 2)
	if err != nil {
		return 0, 0, err
	}
	cm, err := readColumns(scorePath, 2, 3)
	if err != nil {
		return 0, 0, err
	}
	cmTags, err := readTags(scorePath)
	if err != nil {
		return 0, 0, err
	}

	_, asvThreshold, err := ComputeEER(asv["target"], asv["nontarget"])
	if err != nil {
		return 0, 0, essentials.AddCtx("ASV EER", err)
	}
	asvErrors, err := ComputeASVErrors(asv["target"], asv["nontarget"],
		asv["spoof"], asvThreshold)
	if err != nil {
		return 0, 0, err
	}

	bonafide := cm["bonafide"]
	spoof := cm["spoof"]
	eer, _, err := ComputeEER(bonafide, spoof)
	if err != nil {
		return 0, 0, essentials.AddCtx("CM EER", err)
	}
	cost := t.Cost
	if cost == nil {
		cost = CostModel2019()
	}
	minTDCF, err := MinTDCF(bonafide, spoof, asvErrors, cost)
	if err != nil {
		return 0, 0, err
	}

	var report bytes.Buffer
	fmt.Fprintf(&report, "\nCM SYSTEM\n")
	fmt.Fprintf(&report, "\tEER\t\t= %8.9f %% (Equal error rate for countermeasure)\n", eer*100)
	fmt.Fprintf(&report, "\nTANDEM\n")
	fmt.Fprintf(&report, "\tmin-tDCF\t\t= %8.9f\n", minTDCF)
	fmt.Fprintf(&report, "\nBREAKDOWN CM SYSTEM\n")
	for _, tag := range sortedKeys(cmTags) {
		attackEER, _, err := ComputeEER(bonafide, cmTags[tag])
		if err != nil {
			continue
		}
		fmt.Fprintf(&report, "\tEER %s\t\t= %8.9f %% (Equal error rate for %s)\n", tag,
			attackEER*100, tag)
	}
	if err := os.WriteFile(outPath, report.Bytes(), 0644); err != nil {
		return 0, 0, err
	}
	return eer * 100, minTDCF, nil
}

// readColumns groups the scores in column scoreCol by the
// key in column keyCol.
func readColumns(path string, keyCol, scoreCol int) (map[string][]float64, error) {
	res := map[string][]float64{}
	err := scanFields(path, scoreCol+1, func(fields []string) error {
		score, err := strconv.ParseFloat(fields[scoreCol], 64)
		if err != nil {
			return err
		}
		res[fields[keyCol]] = append(res[fields[keyCol]], score)
		return nil
	})
	return res, err
}

// readTags groups spoof scores of a CM score file by their
// attack tag.
func readTags(path string) (map[string][]float64, error) {
	res := map[string][]float64{}
	err := scanFields(path, 4, func(fields []string) error {
		if fields[2] != "spoof" {
			return nil
		}
		score, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return err
		}
		res[fields[1]] = append(res[fields[1]], score)
		return nil
	})
	return res, err
}

func scanFields(path string, minFields int, f func(fields []string) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < minFields {
			return fmt.Errorf("%s:%d: expected at least %d fields", path, lineNum, minFields)
		}
		if err := f(fields); err != nil {
			return essentials.AddCtx(fmt.Sprintf("%s:%d", path, lineNum), err)
		}
	}
	return scanner.Err()
}

func sortedKeys(m map[string][]float64) []string {
	var res []string
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
