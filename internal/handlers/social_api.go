package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	log "github.com/sirupsen/logrus"

	"instafeed/internal/db"
	"instafeed/internal/insights"
	"instafeed/internal/instagram"
	"instafeed/internal/notify"
	"instafeed/internal/security"
	"instafeed/internal/shopify"
	"instafeed/internal/social"
	"instafeed/internal/sync"
)

// SocialHandler serves the embedded app's social API surface.
type SocialHandler struct {
	Store     *social.Store
	Tokens    *social.TokenSource
	Locker    sync.LockService
	Runs      sync.RunRecorder
	Instagram *instagram.Client
	Insights  *insights.Service
}

func NewSocialHandler(ctx context.Context) (*SocialHandler, error) {
	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return nil, err
	}
	cipher, err := security.LoadTokenCipher(ctx)
	if err != nil {
		return nil, err
	}
	store, err := social.NewStore(ddb, cipher)
	if err != nil {
		return nil, err
	}

	return &SocialHandler{
		Store:     store,
		Tokens:    &social.TokenSource{Store: store, Refresher: &social.GraphRefresher{}},
		Locker:    sync.NewLocker(ddb),
		Runs:      sync.NewRunStore(ddb),
		Instagram: &instagram.Client{},
		Insights:  insights.NewService(ctx),
	}, nil
}

func (h *SocialHandler) HandleRequest(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	shop, err := shopDomain(req)
	if err != nil {
		return errResp(http.StatusUnauthorized, err.Error()), nil
	}

	switch req.RequestContext.HTTP.Method + " " + req.RawPath {
	case "POST /social/instagram/sync":
		return h.runSync(ctx, shop), nil
	case "GET /social/instagram/status":
		return h.status(ctx, shop), nil
	case "DELETE /social/instagram/data":
		return h.deleteData(ctx, shop), nil
	case "POST /social/instagram/account":
		return h.connect(ctx, shop, []byte(req.Body)), nil
	case "DELETE /social/instagram/account":
		return h.disconnect(ctx, shop), nil
	case "POST /social/instagram/setup":
		return h.setup(ctx, shop), nil
	case "POST /social/insights":
		return h.askInsights(ctx, shop, []byte(req.Body)), nil
	default:
		return errResp(http.StatusNotFound, "not found"), nil
	}
}

// admin builds the shop's Admin API client from the offline token stored at
// install time.
func (h *SocialHandler) admin(ctx context.Context, shop string) (*shopify.Admin, error) {
	acct, err := h.Store.Get(ctx, shop, social.ProviderShopify)
	if err != nil {
		return nil, err
	}
	return shopify.NewAdmin(shop, acct.AccessToken), nil
}

func (h *SocialHandler) runSync(ctx context.Context, shop string) events.APIGatewayV2HTTPResponse {
	admin, err := h.admin(ctx, shop)
	if err != nil {
		return errResp(http.StatusConflict, "shop is not installed")
	}

	p := &sync.Pipeline{
		Accounts:    h.Tokens,
		Instagram:   h.Instagram,
		Files:       sync.AdminFiles{Admin: admin},
		Metaobjects: sync.AdminMetaobjects{Admin: admin},
		Locks:       h.Locker,
		Runs:        h.Runs,
	}

	sum, err := p.Run(ctx, shop)
	if err != nil {
		if errors.Is(err, sync.ErrLocked) {
			return errResp(http.StatusConflict, "sync already running")
		}
		log.WithField("shop", shop).Errorf("sync run failed: %v", err)
		notify.SyncFailure(ctx, shop, err)
		return errResp(http.StatusBadGateway, err.Error())
	}
	return jsonResp(http.StatusOK, sum)
}

type statusResponse struct {
	Connected  bool   `json:"connected"`
	Username   string `json:"username,omitempty"`
	LastSyncAt string `json:"lastSyncAt,omitempty"`
	ExpiresAt  string `json:"expiresAt,omitempty"`
	PostCount  int    `json:"postCount"`
	FileCount  int    `json:"fileCount"`
	ListSynced string `json:"listSyncedAt,omitempty"`
}

func (h *SocialHandler) status(ctx context.Context, shop string) events.APIGatewayV2HTTPResponse {
	var out statusResponse

	acct, err := h.Store.Get(ctx, shop, social.ProviderInstagram)
	switch {
	case err == nil:
		out.Connected = true
		out.Username = acct.Username
		if !acct.LastSyncAt.IsZero() {
			out.LastSyncAt = acct.LastSyncAt.Format(time.RFC3339)
		}
		if !acct.ExpiresAt.IsZero() {
			out.ExpiresAt = acct.ExpiresAt.Format(time.RFC3339)
		}
	case errors.Is(err, social.ErrNotConnected):
		// fall through with Connected=false
	default:
		return errResp(http.StatusInternalServerError, err.Error())
	}

	admin, err := h.admin(ctx, shop)
	if err != nil {
		return jsonResp(http.StatusOK, out)
	}
	if ids, err := shopify.MetaobjectIDsByType(ctx, admin, shopify.PostMetaobjectType); err == nil {
		out.PostCount = len(ids)
	}
	if keys, err := shopify.ExistingAltKeys(ctx, admin); err == nil {
		out.FileCount = len(keys)
	}
	if at, err := shopify.ListUpdatedAt(ctx, admin); err == nil {
		out.ListSynced = at
	}
	return jsonResp(http.StatusOK, out)
}

func (h *SocialHandler) deleteData(ctx context.Context, shop string) events.APIGatewayV2HTTPResponse {
	admin, err := h.admin(ctx, shop)
	if err != nil {
		return errResp(http.StatusConflict, "shop is not installed")
	}

	files, err := shopify.DeleteOwnedFiles(ctx, admin)
	if err != nil {
		return errResp(http.StatusBadGateway, err.Error())
	}

	deleted := 0
	for _, typ := range []string{shopify.PostMetaobjectType, shopify.ListMetaobjectType} {
		ids, err := shopify.MetaobjectIDsByType(ctx, admin, typ)
		if err != nil {
			return errResp(http.StatusBadGateway, err.Error())
		}
		for _, id := range ids {
			if err := shopify.DeleteMetaobject(ctx, admin, id); err != nil {
				log.WithFields(log.Fields{"shop": shop, "id": id}).Warnf("delete metaobject: %v", err)
				continue
			}
			deleted++
		}
	}
	return jsonResp(http.StatusOK, map[string]int{"filesDeleted": files, "metaobjectsDeleted": deleted})
}

type connectRequest struct {
	AccessToken string `json:"accessToken"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	ExpiresIn   int64  `json:"expiresIn"`
}

func (h *SocialHandler) connect(ctx context.Context, shop string, body []byte) events.APIGatewayV2HTTPResponse {
	var in connectRequest
	if err := json.Unmarshal(body, &in); err != nil || in.AccessToken == "" {
		return errResp(http.StatusBadRequest, "accessToken is required")
	}

	acct := &social.Account{
		Shop:           shop,
		Provider:       social.ProviderInstagram,
		AccessToken:    in.AccessToken,
		ProviderUserID: in.UserID,
		Username:       in.Username,
	}
	if in.ExpiresIn > 0 {
		acct.ExpiresAt = time.Now().UTC().Add(time.Duration(in.ExpiresIn) * time.Second)
	}
	if err := h.Store.Upsert(ctx, acct); err != nil {
		return errResp(http.StatusInternalServerError, err.Error())
	}
	return jsonResp(http.StatusOK, map[string]bool{"connected": true})
}

func (h *SocialHandler) disconnect(ctx context.Context, shop string) events.APIGatewayV2HTTPResponse {
	if err := h.Store.Delete(ctx, shop, social.ProviderInstagram); err != nil {
		return errResp(http.StatusInternalServerError, err.Error())
	}
	// Stored media and metaobjects go with the account.
	return h.deleteData(ctx, shop)
}

func (h *SocialHandler) setup(ctx context.Context, shop string) events.APIGatewayV2HTTPResponse {
	admin, err := h.admin(ctx, shop)
	if err != nil {
		return errResp(http.StatusConflict, "shop is not installed")
	}
	if err := shopify.EnsureDefinitions(ctx, admin); err != nil {
		return errResp(http.StatusBadGateway, err.Error())
	}
	return jsonResp(http.StatusOK, map[string]bool{"ready": true})
}

type insightsRequest struct {
	Question string `json:"question"`
}

func (h *SocialHandler) askInsights(ctx context.Context, shop string, body []byte) events.APIGatewayV2HTTPResponse {
	if h.Insights == nil {
		return errResp(http.StatusServiceUnavailable, "insights not configured")
	}
	var in insightsRequest
	if err := json.Unmarshal(body, &in); err != nil || in.Question == "" {
		return errResp(http.StatusBadRequest, "question is required")
	}

	res, err := h.Insights.Ask(ctx, shop, in.Question)
	if err != nil {
		if errors.Is(err, insights.ErrRejectedSQL) {
			return errResp(http.StatusBadRequest, err.Error())
		}
		return errResp(http.StatusBadGateway, err.Error())
	}
	return jsonResp(http.StatusOK, res)
}
