package features

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/synaptica-ai/cardiorisk/pkg/common/models"
)

const daysPerYear = 365.25

// missingNotes is how an absent notes cell reads once stringified.
const missingNotes = "nan"

// DOBLayouts are tried in order when parsing a date of birth.
var DOBLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"02-Jan-2006",
}

type compiledCondition struct {
	re   *regexp.Regexp
	term string
}

type NotesDeriver struct {
	reference time.Time
	smoking   []string
	htn       compiledCondition
	dm        compiledCondition
	nullNotes map[string]struct{}
}

func NewNotesDeriver(rules Rules, reference time.Time) (*NotesDeriver, error) {
	if reference.IsZero() {
		return nil, fmt.Errorf("reference date required")
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	htn, err := CompilePattern(rules.Hypertension.Pattern)
	if err != nil {
		return nil, err
	}
	dm, err := CompilePattern(rules.Diabetes.Pattern)
	if err != nil {
		return nil, err
	}
	d := &NotesDeriver{
		reference: reference,
		smoking:   rules.SmokingKeywords,
		htn:       compiledCondition{re: htn, term: rules.Hypertension.DiagnosisTerm},
		dm:        compiledCondition{re: dm, term: rules.Diabetes.DiagnosisTerm},
		nullNotes: make(map[string]struct{}, len(rules.NullNotes)),
	}
	for _, s := range rules.NullNotes {
		d.nullNotes[s] = struct{}{}
	}
	return d, nil
}

// Derive computes the projected notes row. Unparseable fields leave their band empty
// and are reported through the returned issue counts.
func (d *NotesDeriver) Derive(rec models.NoteRecord) (models.NoteFeatures, models.RowIssues) {
	var issues models.RowIssues
	out := models.NoteFeatures{
		EncounterID: rec.EncounterID,
		Gender:      rec.Gender,
		Diagnosis:   rec.Diagnosis,
	}

	if dob, err := ParseDOB(rec.DOB); err != nil {
		issues.InvalidDOB++
	} else {
		age := AgeYears(dob, d.reference)
		out.AgeYears = &age
		if band, ok := AgeBand(age); ok {
			out.AgeCategory = band
		} else {
			issues.AgeOutOfRange++
		}
	}

	if bp, err := parseNumber(rec.SystolicBP); err != nil {
		issues.InvalidBP++
	} else {
		out.SystolicBPCategory = BPBand(bp)
	}

	out.SmokingStatus = yesNo(d.smokes(rec.Notes))

	text := missingNotes
	if rec.Notes != nil {
		text = *rec.Notes
	}
	_, nullLike := d.nullNotes[text]

	out.HypertensionMention = d.htn.re.MatchString(text)
	out.DiabetesMention = d.dm.re.MatchString(text)
	out.HypertensionFlag = yesNo(!nullLike && (out.HypertensionMention || strings.Contains(rec.Diagnosis, d.htn.term)))
	out.DiabetesFlag = yesNo(!nullLike && (out.DiabetesMention || strings.Contains(rec.Diagnosis, d.dm.term)))

	return out, issues
}

func (d *NotesDeriver) smokes(notes *string) bool {
	if notes == nil {
		return false
	}
	for _, kw := range d.smoking {
		if strings.Contains(*notes, kw) {
			return true
		}
	}
	return false
}

func ParseDOB(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("date of birth missing")
	}
	for _, layout := range DOBLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date of birth %q", value)
}

// AgeYears is whole elapsed days divided by 365.25, rounded half to even. Days come from
// Unix seconds rather than a time.Duration, which saturates past 292 years.
func AgeYears(dob, reference time.Time) int {
	const secondsPerDay = 24 * 60 * 60
	elapsed := reference.Unix() - dob.Unix()
	days := elapsed / secondsPerDay
	if elapsed%secondsPerDay < 0 {
		days--
	}
	return int(math.RoundToEven(float64(days) / daysPerYear))
}

// AgeBand buckets an age: below 45, 45 through 65 inclusive, above 65. Ages of zero or
// less fall outside every band.
func AgeBand(age int) (string, bool) {
	switch {
	case age <= 0:
		return "", false
	case age < 45:
		return models.AgeBelow45, true
	case age <= 65:
		return models.Age45To65, true
	default:
		return models.AgeAbove65, true
	}
}

func BPBand(systolic float64) string {
	switch {
	case systolic <= 125:
		return models.BPGood
	case systolic <= 140:
		return models.BPStable
	default:
		return models.BPHigh
	}
}

func parseNumber(value string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) {
		return 0, fmt.Errorf("not a number")
	}
	return f, nil
}

func yesNo(b bool) string {
	if b {
		return models.Yes
	}
	return models.No
}
