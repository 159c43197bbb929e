package recordstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dogdollars/loyalty/internal/models"
	"github.com/dogdollars/loyalty/internal/shopify"
	"github.com/dogdollars/loyalty/pkg/retry"
)

// metafieldTypes maps attribute keys to Shopify metafield types. Unlisted keys are multi-line text.
var metafieldTypes = map[string]string{
	models.AttrBalance:    "number_integer",
	models.AttrCodes:      "json",
	models.AttrLegacyCode: "multi_line_text_field",
}

type metafield struct {
	ID        int64  `json:"id,omitempty"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type metafieldList struct {
	Metafields []metafield `json:"metafields"`
}

type metafieldEnvelope struct {
	Metafield metafield `json:"metafield"`
}

// Shopify stores attributes as customer metafields. The version token is "{id}@{updated_at}";
// the metafield id is what routes an update, the timestamp is informational only.
type Shopify struct {
	api       *shopify.Client
	namespace string
	logger    *zap.Logger
}

// NewShopify creates a metafield-backed Client.
func NewShopify(api *shopify.Client, namespace string, logger *zap.Logger) *Shopify {
	if logger == nil {
		logger = zap.NewNop()
	}
	if namespace == "" {
		namespace = models.AttrNamespace
	}
	return &Shopify{api: api, namespace: namespace, logger: logger}
}

// Get implements Client.
func (s *Shopify) Get(ctx context.Context, customerID string) (map[string]Attribute, error) {
	var list metafieldList
	path := fmt.Sprintf("/customers/%s/metafields.json?namespace=%s", shopify.NumericID(customerID), s.namespace)
	if err := s.api.Do(ctx, http.MethodGet, path, nil, nil, &list); err != nil {
		if isNotFound(err) {
			return map[string]Attribute{}, nil
		}
		return nil, classify(err)
	}
	out := make(map[string]Attribute, len(list.Metafields))
	for _, mf := range list.Metafields {
		if mf.Namespace != s.namespace {
			continue
		}
		out[mf.Key] = Attribute{Key: mf.Key, Value: mf.Value, Version: versionOf(mf)}
	}
	return out, nil
}

// Set implements Client. An update goes to the metafield id carried in expectedVersion; without one
// a create is attempted, falling back to an update if Shopify reports the key already exists.
func (s *Shopify) Set(ctx context.Context, customerID, key, value, expectedVersion string) (string, error) {
	cid := shopify.NumericID(customerID)
	mf := metafield{Namespace: s.namespace, Key: key, Value: value, Type: typeOf(key)}

	if id := idFromVersion(expectedVersion); id != 0 {
		return s.update(ctx, cid, id, mf)
	}

	var out metafieldEnvelope
	err := s.api.Do(ctx, http.MethodPost, fmt.Sprintf("/customers/%s/metafields.json", cid), nil, metafieldEnvelope{Metafield: mf}, &out)
	if err == nil {
		return versionOf(out.Metafield), nil
	}
	var se *shopify.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusUnprocessableEntity {
		return "", classify(err)
	}

	// Key already exists (written by another path); look up its id and update in place.
	attrs, gerr := s.Get(ctx, customerID)
	if gerr != nil {
		return "", gerr
	}
	existing, ok := attrs[key]
	if !ok {
		return "", classify(err)
	}
	s.logger.Debug("metafield exists, updating", zap.String("customer_id", cid), zap.String("key", key))
	return s.update(ctx, cid, idFromVersion(existing.Version), mf)
}

func (s *Shopify) update(ctx context.Context, cid string, id int64, mf metafield) (string, error) {
	mf.ID = id
	var out metafieldEnvelope
	path := fmt.Sprintf("/customers/%s/metafields/%d.json", cid, id)
	if err := s.api.Do(ctx, http.MethodPut, path, nil, metafieldEnvelope{Metafield: mf}, &out); err != nil {
		return "", classify(err)
	}
	return versionOf(out.Metafield), nil
}

func typeOf(key string) string {
	if t, ok := metafieldTypes[key]; ok {
		return t
	}
	return "multi_line_text_field"
}

func versionOf(mf metafield) string {
	if mf.ID == 0 {
		return ""
	}
	return fmt.Sprintf("%d@%s", mf.ID, mf.UpdatedAt)
}

func idFromVersion(version string) int64 {
	if version == "" {
		return 0
	}
	head, _, _ := strings.Cut(version, "@")
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func isNotFound(err error) bool {
	var se *shopify.StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// classify leaves transient failures retryable and marks the rest permanent.
func classify(err error) error {
	var se *shopify.StatusError
	if errors.As(err, &se) && !se.Transient() {
		return retry.Permanent(err)
	}
	return err
}
