package samr

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

var (
	moneyRe     = regexp.MustCompile(`\d+\.\d{2}`)
	docNumberRe = regexp.MustCompile(`\b[A-Z]{2,}-?\d{3,}\b`)
)

// Perturbation is the record of what was changed in the probe input.
type Perturbation struct {
	Text    string
	Applied bool
	Changes int
}

// Perturb nudges numeric values in the evidence text. Each monetary value
// is shifted by 5% or 10% with probability strength; document numbers are
// shifted by 1 or 10 with half that probability. A model grounded in the
// evidence must produce a different answer for the perturbed input.
func Perturb(text string, strength float64, rng *rand.Rand) Perturbation {
	p := Perturbation{Text: text}

	p.Text = moneyRe.ReplaceAllStringFunc(p.Text, func(m string) string {
		if rng.Float64() >= strength {
			return m
		}
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return m
		}
		factor := 1.05
		if rng.Intn(2) == 0 {
			factor = 1.10
		}
		if rng.Intn(2) == 0 {
			factor = 2 - factor // shift down instead
		}
		p.Changes++
		return strconv.FormatFloat(v*factor, 'f', 2, 64)
	})

	p.Text = docNumberRe.ReplaceAllStringFunc(p.Text, func(m string) string {
		if rng.Float64() >= strength/2 {
			return m
		}
		idx := strings.LastIndexFunc(m, func(r rune) bool { return r < '0' || r > '9' })
		digits := m[idx+1:]
		n, err := strconv.Atoi(digits)
		if err != nil {
			return m
		}
		delta := 1
		if rng.Intn(2) == 0 {
			delta = 10
		}
		p.Changes++
		return m[:idx+1] + strconv.Itoa(n+delta)
	})

	p.Applied = p.Changes > 0
	return p
}
