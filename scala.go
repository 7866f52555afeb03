package xentrack

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ParseScala reads a tuning in the Scala .scl format. Lines starting with "!"
// are comments. The first remaining line is a description, the second the
// number of notes, and then one interval per line: a value containing a
// period is in cents, "a/b" is a ratio and a bare integer n is the ratio n/1.
// The last interval is the period; the implicit 1/1 is degree zero.
func ParseScala(r io.Reader, reference float64) (*Tuning, error) {
	scanner := bufio.NewScanner(r)
	var (
		lines       int
		description string
		count       int
		intervals   []float64
	)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, "!") {
			continue
		}
		switch lines {
		case 0:
			description = strings.TrimSpace(line)
		case 1:
			fields := strings.Fields(line)
			if len(fields) == 0 {
				return nil, fmt.Errorf("%w: line %d: missing note count", ErrInvalidTuningData, lineNo)
			}
			n, err := strconv.Atoi(fields[0])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: line %d: bad note count %q", ErrInvalidTuningData, lineNo, fields[0])
			}
			count = n
			intervals = make([]float64, 0, n)
		default:
			if len(intervals) == count {
				break
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				return nil, fmt.Errorf("%w: line %d: missing interval", ErrInvalidTuningData, lineNo)
			}
			v, err := parseScalaInterval(fields[0])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidTuningData, lineNo, err)
			}
			intervals = append(intervals, v)
		}
		lines++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading scala file: %w", err)
	}
	if lines < 2 {
		return nil, fmt.Errorf("%w: scala file has no note count", ErrInvalidTuningData)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: scala file has no notes", ErrInvalidTuningData)
	}
	if len(intervals) < count {
		return nil, fmt.Errorf("%w: scala file declares %d notes but has %d", ErrInvalidTuningData, count, len(intervals))
	}
	period := intervals[count-1]
	ratios := make([]float64, count)
	ratios[0] = 1
	copy(ratios[1:], intervals[:count-1])
	t, err := LoadScale(ratios, period, reference)
	if err != nil {
		return nil, err
	}
	t.name = description
	return t, nil
}

func parseScalaInterval(s string) (float64, error) {
	if strings.Contains(s, ".") {
		cents, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("bad cents value %q", s)
		}
		return math.Exp2(cents / 1200), nil
	}
	num, den, isRatio := strings.Cut(s, "/")
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad ratio %q", s)
	}
	d := uint64(1)
	if isRatio {
		if d, err = strconv.ParseUint(den, 10, 64); err != nil || d == 0 {
			return 0, fmt.Errorf("bad ratio %q", s)
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("ratio %q must be positive", s)
	}
	return float64(n) / float64(d), nil
}
