package web

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"

	"github.com/ahrav/go-versus/infrastructure/units"
	"github.com/ahrav/go-versus/internal/domain"
)

//go:embed views/*.html
var viewsFS embed.FS

func newViewEngine() (*html.Engine, error) {
	sub, err := fs.Sub(viewsFS, "views")
	if err != nil {
		return nil, fmt.Errorf("web: views: %w", err)
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	engine.AddFuncMap(map[string]any{
		"criterionTitle": units.CriterionTitle,
		"score":          func(scores map[string]int, key string) int { return scores[key] },
		"percent":        func(w float64) int { return int(w*100 + 0.5) },
		"inc":            func(i int) int { return i + 1 },
	})
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("web: load views: %w", err)
	}
	return engine, nil
}

type poemRow struct {
	Round    int
	Verse    domain.Verse
	Judgment domain.Judgment
}

func poemBinding(snap domain.Snapshot, rubric domain.Rubric) fiber.Map {
	rows := make([]poemRow, len(snap.Verses))
	for i, v := range snap.Verses {
		rows[i] = poemRow{Round: i + 1, Verse: v}
		if i < len(snap.Judgments) {
			rows[i].Judgment = snap.Judgments[i]
		}
	}
	return fiber.Map{
		"Snapshot": snap,
		"Rows":     rows,
		"Criteria": rubric.Criteria(),
		"Running":  snap.Status == domain.DuelRunning,
		"Title":    fmt.Sprintf("%s vs %s", snap.PersonaA.Name, snap.PersonaB.Name),
	}
}

// RenderPoem writes the standalone HTML page for snap.
func RenderPoem(w io.Writer, snap domain.Snapshot, rubric domain.Rubric) error {
	engine, err := newViewEngine()
	if err != nil {
		return err
	}
	if err := engine.Render(w, "poem", poemBinding(snap, rubric)); err != nil {
		return fmt.Errorf("web: render poem: %w", err)
	}
	return nil
}
