package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"armory/api/internal/accounts"
	"armory/api/internal/config"
	"armory/api/internal/identity"
	"armory/api/internal/images"
	"armory/api/internal/normalize"
	"armory/api/internal/notify"
	"armory/api/internal/search"
	"armory/api/internal/store"
)

type inventoryStore interface {
	Known(collection string) bool
	List(ctx context.Context, collection string) ([]normalize.RawRow, error)
	Create(ctx context.Context, collection string, payload normalize.RawRow) (normalize.RawRow, error)
	Ping(ctx context.Context) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexRecord(collection string, record normalize.Record)
}

type imageStore interface {
	Upload(ctx context.Context, contentType string, body io.Reader, size int64) (string, error)
	PresignedURL(ctx context.Context, object string, expiry time.Duration) (string, error)
}

type accountsService interface {
	Register(ctx context.Context, req accounts.RegisterRequest) (store.User, error)
	Login(ctx context.Context, email, password string) (accounts.LoginResponse, error)
}

type Service struct {
	cfg       config.Config
	inventory inventoryStore
	verifier  identity.Verifier
	channel   notify.Channel
	busPing   func(context.Context) error
	search    searchService
	images    imageStore
	accounts  accountsService
}

// New wires the service. searchSvc and imageSvc may be nil when not
// configured; the corresponding routes answer 503.
func New(cfg config.Config, inventory *store.Inventory, verifier identity.Verifier, channel notify.Channel,
	accountsSvc *accounts.Service, searchSvc *search.Service, imageSvc *images.Service,
	busPing func(context.Context) error) *Service {
	svc := &Service{
		cfg:       cfg,
		inventory: inventory,
		verifier:  verifier,
		channel:   channel,
		busPing:   busPing,
	}
	if accountsSvc != nil {
		svc.accounts = accountsSvc
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	if imageSvc != nil {
		svc.images = imageSvc
	}
	return svc
}

// VerifyToken gates every protected route. No store call happens for a
// request until the credential has been confirmed.
func (s *Service) VerifyToken(ctx context.Context, token string) (identity.Principal, error) {
	if token == "" {
		return identity.Principal{}, identity.ErrUnauthenticated
	}
	return s.verifier.Verify(ctx, token)
}

// ListCollection returns the whole collection in canonical shape. Rows the
// normalizer rejects are dropped individually, never the collection.
func (s *Service) ListCollection(ctx context.Context, collection string) ([]normalize.Record, error) {
	if !s.inventory.Known(collection) {
		return nil, errUnknownCollection(collection)
	}
	rows, err := s.inventory.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	records, dropped := normalize.All(collection, rows)
	if dropped > 0 {
		log.Printf("app: list %s: dropped %d malformed rows", collection, dropped)
	}
	return records, nil
}

// CreateRecord inserts one record and announces the change. The write
// succeeds even when the announcement fails; observers catch up on their
// next reconnect.
func (s *Service) CreateRecord(ctx context.Context, collection string, payload normalize.RawRow) (normalize.Record, error) {
	if !s.inventory.Known(collection) {
		return nil, errUnknownCollection(collection)
	}
	row, err := s.inventory.Create(ctx, collection, payload)
	if err != nil {
		return nil, err
	}
	record, err := normalize.Normalize(collection, row)
	if err != nil {
		return nil, fmt.Errorf("normalize stored row: %w", err)
	}

	if s.channel != nil {
		if err := s.channel.Publish(ctx, notify.Event{Collection: collection, Kind: notify.KindInsert}); err != nil {
			log.Printf("app: publish %s change: %v", collection, err)
		}
	}
	if s.search != nil {
		s.search.IndexRecord(collection, record)
	}
	return record, nil
}

func (s *Service) Search(q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search not configured", nil)
	}
	return s.search.Search(q), nil
}

func (s *Service) UploadImage(ctx context.Context, contentType string, body io.Reader, size int64) (string, error) {
	if s.images == nil {
		return "", domainError(http.StatusServiceUnavailable, "IMAGES_UNAVAILABLE", "Image storage not configured", nil)
	}
	return s.images.Upload(ctx, contentType, body, size)
}

// ImageURL resolves a stored imageRef object into a short-lived download
// link; the store itself is never exposed to clients.
func (s *Service) ImageURL(ctx context.Context, object string) (string, error) {
	if s.images == nil {
		return "", domainError(http.StatusServiceUnavailable, "IMAGES_UNAVAILABLE", "Image storage not configured", nil)
	}
	return s.images.PresignedURL(ctx, object, 15*time.Minute)
}

func (s *Service) Register(ctx context.Context, req accounts.RegisterRequest) (store.User, error) {
	if s.accounts == nil {
		return store.User{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Account service not configured", nil)
	}
	return s.accounts.Register(ctx, req)
}

func (s *Service) Login(ctx context.Context, email, password string) (accounts.LoginResponse, error) {
	if s.accounts == nil {
		return accounts.LoginResponse{}, domainError(http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Account service not configured", nil)
	}
	return s.accounts.Login(ctx, email, password)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.inventory.Ping(ctx)
}

func (s *Service) PingBus(ctx context.Context) error {
	if s.busPing == nil {
		return nil
	}
	return s.busPing(ctx)
}
