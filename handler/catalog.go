package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	intake "github.com/phbpx/crm-intake"
	"github.com/phbpx/crm-intake/pkg/validate"
	"go.uber.org/zap"
)

var bookingLanguages = map[string]bool{"en": true, "es": true}

type surgeonView struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Price            *float64 `json:"price"`
	BookingAvailable bool     `json:"bookingAvailable"`
	BookingURL       string   `json:"bookingUrl"`
}

type surgeonDetail struct {
	surgeonView
	Country string `json:"country"`
	State   string `json:"state"`
	City    string `json:"city"`
}

func newSurgeonView(p intake.Provider, lang string) surgeonView {
	url := p.BookingURL(lang)
	return surgeonView{
		ID:               p.ID,
		Name:             p.Name,
		Price:            p.Price,
		BookingAvailable: url != "",
		BookingURL:       url,
	}
}

type CatalogHandler struct {
	service   intake.CatalogService
	validator *validate.Validator
	log       *zap.SugaredLogger
}

func NewCatalogHandler(service intake.CatalogService, log *zap.SugaredLogger) *CatalogHandler {
	return &CatalogHandler{
		service:   service,
		validator: validate.New(),
		log:       log,
	}
}

func (ch CatalogHandler) Countries(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	countries, err := ch.service.Countries(ctx)
	if err != nil {
		ch.fail(rw, r, "Countries", err)
		return
	}

	respond(ctx, rw, http.StatusOK, countries)
}

func (ch CatalogHandler) States(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	country, err := ch.param(r, "country", true)
	if err != nil {
		ch.fail(rw, r, "States", err)
		return
	}

	states, err := ch.service.States(ctx, country)
	if err != nil {
		ch.fail(rw, r, "States", err)
		return
	}

	respond(ctx, rw, http.StatusOK, states)
}

func (ch CatalogHandler) Cities(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	loc, err := ch.location(r, false)
	if err != nil {
		ch.fail(rw, r, "Cities", err)
		return
	}

	cities, err := ch.service.Cities(ctx, loc.Country, loc.State)
	if err != nil {
		ch.fail(rw, r, "Cities", err)
		return
	}

	respond(ctx, rw, http.StatusOK, cities)
}

func (ch CatalogHandler) Surgeons(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	loc, err := ch.location(r, true)
	if err != nil {
		ch.fail(rw, r, "Surgeons", err)
		return
	}

	providers, err := ch.service.Surgeons(ctx, loc)
	if err != nil {
		ch.fail(rw, r, "Surgeons", err)
		return
	}

	lang := language(r)
	views := make([]surgeonView, 0, len(providers))
	for _, p := range providers {
		views = append(views, newSurgeonView(p, lang))
	}

	respond(ctx, rw, http.StatusOK, views)
}

func (ch CatalogHandler) Surgeon(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := chi.URLParam(r, "id")
	if err := ch.validator.Var("id", id, "required,numeric,max=30"); err != nil {
		ch.fail(rw, r, "Surgeon", intake.ErrProviderNotFound)
		return
	}

	p, err := ch.service.Surgeon(ctx, id)
	if err != nil {
		ch.fail(rw, r, "Surgeon", err)
		return
	}

	respond(ctx, rw, http.StatusOK, surgeonDetail{
		surgeonView: newSurgeonView(p, language(r)),
		Country:     p.Country,
		State:       p.State,
		City:        p.City,
	})
}

// location reads country, state and city. State is required for countries
// split into regions.
func (ch CatalogHandler) location(r *http.Request, withCity bool) (intake.Location, error) {
	var loc intake.Location
	var err error

	if loc.Country, err = ch.param(r, "country", true); err != nil {
		return loc, err
	}
	if loc.State, err = ch.param(r, "state", intake.HasRegions(loc.Country)); err != nil {
		return loc, err
	}
	if withCity {
		if loc.City, err = ch.param(r, "city", true); err != nil {
			return loc, err
		}
	}
	return loc, nil
}

func (ch CatalogHandler) param(r *http.Request, name string, required bool) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	tag := "omitempty,max=100"
	if required {
		tag = "required,max=100"
	}
	if err := ch.validator.Var(name, v, tag); err != nil {
		return "", err
	}
	return v, nil
}

func language(r *http.Request) string {
	lang := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("lang")))
	if bookingLanguages[lang] {
		return lang
	}
	return intake.DefaultLanguage
}

func (ch CatalogHandler) fail(rw http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()

	var verr *intake.ValidationError
	switch {
	case errors.As(err, &verr):
		ch.log.Infow(op, "status", http.StatusBadRequest, "error", err.Error())
		respondErr(ctx, rw, http.StatusBadRequest, err)
	case errors.Is(err, intake.ErrProviderNotFound):
		respondErr(ctx, rw, http.StatusNotFound, intake.ErrProviderNotFound)
	default:
		ch.log.Errorw(op, "error", err.Error())
		respondErr(ctx, rw, http.StatusInternalServerError, errors.New("catalog lookup failed"))
	}
}
