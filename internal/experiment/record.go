package experiment

import (
	"strconv"

	"github.com/san-kum/pedalstat/internal/storage"
)

var (
	fixefHeader    = []string{"response", "term", "estimate", "se", "df", "t", "p"}
	subjectsHeader = []string{"response", "subject", "level", "label", "value"}
	posthocHeader  = []string{
		"response", "marginal", "by_var", "by", "contrast", "estimate", "se", "df", "t",
		"p_raw", "p", "lower", "upper", "adjust",
	}
)

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

// Record converts the result into its stored form.
func (r *Result) Record() *storage.Record {
	rec := &storage.Record{
		Metadata: storage.RunMetadata{
			Study:       r.Study,
			Dataset:     r.Source,
			Rows:        r.Rows,
			Normalizers: r.NormalizerNames(),
		},
	}
	fixef := storage.Table{Name: storage.TableFixef, Header: fixefHeader, Rows: [][]string{}}
	subjects := storage.Table{Name: storage.TableSubjects, Header: subjectsHeader, Rows: [][]string{}}
	post := storage.Table{Name: storage.TablePosthoc, Header: posthocHeader, Rows: [][]string{}}

	for _, mr := range r.Models {
		m := mr.Model
		resp := m.Formula.Response
		d := m.Diagnostics
		rec.Metadata.Models = append(rec.Metadata.Models, storage.ModelMetadata{
			Response:  resp,
			Formula:   m.Formula.String(),
			Method:    string(m.Method),
			N:         d.N,
			Groups:    d.Groups,
			Criterion: d.Criterion,
			LogLik:    d.LogLik,
			AIC:       d.AIC,
			BIC:       d.BIC,
			Sigma:     m.Sigma,
			Converged: d.Converged,
			Singular:  d.Singular,
			Figures:   mr.Figures,
		})

		for _, fe := range m.Fixed {
			fixef.Rows = append(fixef.Rows, []string{
				resp, fe.Name, num(fe.Estimate), num(fe.SE), num(fe.DF), num(fe.T), num(fe.P),
			})
		}

		if s := mr.Subjects; s != nil {
			for i, subj := range s.Subjects {
				for j, lvl := range s.Levels {
					subjects.Rows = append(subjects.Rows, []string{
						resp, subj, lvl, s.Labels[j], num(s.Values[i][j]),
					})
				}
			}
		}

		for _, ph := range mr.Posthoc {
			for _, c := range ph.Contrasts {
				post.Rows = append(post.Rows, []string{
					resp, ph.Marginal, ph.By, c.By, c.Name,
					num(c.Estimate), num(c.SE), num(c.DF), num(c.T),
					num(c.PRaw), num(c.P), num(c.Lower), num(c.Upper), string(ph.Adjust),
				})
			}
		}
	}
	rec.Tables = []storage.Table{fixef, subjects, post}
	return rec
}
