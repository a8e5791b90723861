package web

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"

	"github.com/ahrav/go-versus/infrastructure/audio"
	"github.com/ahrav/go-versus/internal/domain"
	"github.com/ahrav/go-versus/internal/ports"
)

type personaView struct {
	domain.Persona
	DisplayTitle string `json:"display_title"`
}

type createdDuel struct {
	ID       string          `json:"id"`
	Stream   string          `json:"stream"`
	Poem     string          `json:"poem"`
	Snapshot domain.Snapshot `json:"snapshot"`
}

func (s *Server) listPersonas(c *fiber.Ctx) error {
	all := s.factory.Catalog().All()
	out := make([]personaView, 0, len(all))
	for _, p := range all {
		out = append(out, personaView{Persona: p, DisplayTitle: p.DisplayTitle()})
	}
	return c.JSON(out)
}

// createDuel accepts either a JSON Request or a multipart form whose
// optional "file" part is run through the text extractor.
func (s *Server) createDuel(c *fiber.Ctx) error {
	req, err := s.parseRequest(c)
	if err != nil {
		return err
	}

	observers := make([]ports.DuelObserver, 0, len(s.observers)+1)
	observers = append(observers, s.observers...)
	observers = append(observers, s.hub)
	duel, err := s.factory.NewDuel(req, observers...)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConfiguration) || errors.Is(err, domain.ErrEmptyDocument) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return err
	}
	if err := s.start(c.UserContext(), duel); err != nil {
		return err
	}

	id := duel.ID()
	return c.Status(fiber.StatusAccepted).JSON(createdDuel{
		ID:       id,
		Stream:   "/ws/duels/" + id,
		Poem:     "/duels/" + id,
		Snapshot: duel.Snapshot(),
	})
}

func (s *Server) parseRequest(c *fiber.Ctx) (Request, error) {
	var req Request
	contentType := string(c.Request().Header.ContentType())
	if !strings.HasPrefix(contentType, fiber.MIMEMultipartForm) {
		if err := c.BodyParser(&req); err != nil {
			return req, fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
		}
		return req, nil
	}

	req.PersonaA = c.FormValue("persona_a")
	req.PersonaB = c.FormValue("persona_b")
	req.Document = c.FormValue("document")
	if raw := strings.TrimSpace(c.FormValue("rounds")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("rounds must be a number, got %q", raw))
		}
		req.Rounds = &n
	}

	form, err := c.MultipartForm()
	if err != nil {
		return req, fiber.NewError(fiber.StatusBadRequest, "invalid upload: "+err.Error())
	}
	files := form.File["file"]
	if len(files) == 0 {
		return req, nil
	}
	fh := files[0]
	if fh.Size > int64(s.maxUpload) {
		return req, fiber.NewError(fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("%s is %d bytes, limit is %d", fh.Filename, fh.Size, s.maxUpload))
	}
	if s.extractor == nil {
		return req, fiber.NewError(fiber.StatusUnsupportedMediaType, "document uploads are disabled")
	}

	f, err := fh.Open()
	if err != nil {
		return req, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, int64(s.maxUpload)+1))
	if err != nil {
		return req, err
	}

	text, err := s.extractor.Extract(c.UserContext(), fh.Filename, data)
	if err != nil {
		if errors.Is(err, ports.ErrUnsupportedFormat) {
			return req, fiber.NewError(fiber.StatusUnsupportedMediaType, err.Error())
		}
		return req, fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}
	req.Document = text
	return req, nil
}

func (s *Server) getDuel(c *fiber.Ctx) error {
	sess, err := s.lookup(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(sess.duel.Snapshot())
}

// getAudio narrates a finished duel. Narration failures never change the
// duel; they only make this endpoint unavailable.
func (s *Server) getAudio(c *fiber.Ctx) error {
	sess, err := s.lookup(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	snap := sess.duel.Snapshot()
	if snap.Status == domain.DuelRunning {
		return fiber.NewError(fiber.StatusConflict, "duel is still running")
	}
	if len(snap.Verses) == 0 {
		return fiber.NewError(fiber.StatusNotFound, "poem has no verses")
	}
	if s.narrator == nil {
		return fiber.NewError(fiber.StatusNotImplemented, audio.ErrDisabled.Error())
	}

	data, err := s.narrator.Render(c.UserContext(), snap.Lines(), snap.Speakers())
	if err != nil {
		s.logger.Warn("narration failed", "duel_id", snap.DuelID, "error", err)
		if errors.Is(err, audio.ErrDisabled) {
			return fiber.NewError(fiber.StatusNotImplemented, err.Error())
		}
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}

	kind := mimetype.Detect(data)
	c.Set(fiber.HeaderContentType, kind.String())
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`inline; filename="poem-%s%s"`, snap.DuelID, kind.Extension()))
	return c.Send(data)
}

func (s *Server) indexPage(c *fiber.Ctx) error {
	return c.Render("index", fiber.Map{
		"Personas":      s.factory.Catalog().All(),
		"DefaultRounds": s.factory.DefaultRounds(),
	})
}

func (s *Server) poemPage(c *fiber.Ctx) error {
	sess, err := s.lookup(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Render("poem", poemBinding(sess.duel.Snapshot(), s.factory.Rubric()))
}
