package handlers

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

var shopDomainRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*\.myshopify\.com$`)

func jsonResp(status int, body any) events.APIGatewayV2HTTPResponse {
	b, _ := json.Marshal(body)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}
}

func errResp(status int, msg string) events.APIGatewayV2HTTPResponse {
	return jsonResp(status, map[string]string{"error": msg})
}

// shopDomain extracts the calling shop from the session token's dest claim
// ("https://<shop>.myshopify.com"), validated by the authorizer upstream.
func shopDomain(req events.APIGatewayV2HTTPRequest) (string, error) {
	if req.RequestContext.Authorizer == nil || req.RequestContext.Authorizer.JWT == nil {
		return "", fmt.Errorf("missing authorizer claims")
	}
	dest := req.RequestContext.Authorizer.JWT.Claims["dest"]
	shop := strings.TrimPrefix(strings.TrimPrefix(dest, "https://"), "http://")
	shop = strings.TrimSuffix(shop, "/")
	if !shopDomainRe.MatchString(shop) {
		return "", fmt.Errorf("invalid shop domain in dest claim")
	}
	return shop, nil
}
