package shopify

import (
	"context"
	"strings"
)

const metaobjectDefinitionCreateMutation = `mutation metaobjectDefinitionCreate($definition: MetaobjectDefinitionCreateInput!) {
  metaobjectDefinitionCreate(definition: $definition) {
    metaobjectDefinition {
      id
      type
    }
    userErrors {
      field
      message
    }
  }
}`

type metaobjectDefinitionCreatePayload struct {
	MetaobjectDefinitionCreate struct {
		MetaobjectDefinition struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"metaobjectDefinition"`
		UserErrors []UserError `json:"userErrors"`
	} `json:"metaobjectDefinitionCreate"`
}

func fieldDef(key, name, typ string) map[string]any {
	return map[string]any{"key": key, "name": name, "type": typ}
}

func allTakenErrors(ues []UserError) bool {
	for _, ue := range ues {
		if !strings.Contains(ue.Message, "taken") && !strings.Contains(ue.Message, "in use") {
			return false
		}
	}
	return true
}

func createDefinition(ctx context.Context, a *Admin, def map[string]any) error {
	resp, err := Post[metaobjectDefinitionCreatePayload](ctx, a, metaobjectDefinitionCreateMutation, map[string]any{
		"definition": def,
	})
	if err != nil {
		return err
	}
	ues := resp.Data.MetaobjectDefinitionCreate.UserErrors
	if len(ues) > 0 && allTakenErrors(ues) {
		// Re-running setup against an installed shop hits "taken"; that is
		// the desired end state, not a failure.
		return nil
	}
	return userErrorsToErr("metaobjectDefinitionCreate", ues)
}

// EnsureDefinitions creates the post and list metaobject definitions.
// Idempotent: already-existing definitions are treated as success.
func EnsureDefinitions(ctx context.Context, a *Admin) error {
	post := map[string]any{
		"type": PostMetaobjectType,
		"name": "Instagram Post",
		"access": map[string]string{
			"storefront": "PUBLIC_READ",
		},
		"capabilities": map[string]any{
			"publishable": map[string]bool{"enabled": true},
		},
		"fieldDefinitions": []map[string]any{
			fieldDef("data", "Data", "json"),
			fieldDef("files", "Files", "list.file_reference"),
			fieldDef("caption", "Caption", "multi_line_text_field"),
			fieldDef("likes", "Likes", "number_integer"),
			fieldDef("comments", "Comments", "number_integer"),
		},
	}
	if err := createDefinition(ctx, a, post); err != nil {
		return err
	}

	list := map[string]any{
		"type": ListMetaobjectType,
		"name": "Instagram List",
		"access": map[string]string{
			"storefront": "PUBLIC_READ",
		},
		"capabilities": map[string]any{
			"publishable": map[string]bool{"enabled": true},
		},
		"fieldDefinitions": []map[string]any{
			fieldDef("data", "Data", "json"),
			fieldDef("posts", "Posts", "list.metaobject_reference"),
			fieldDef("username", "Username", "single_line_text_field"),
			fieldDef("account_name", "Account name", "single_line_text_field"),
		},
	}
	return createDefinition(ctx, a, list)
}
