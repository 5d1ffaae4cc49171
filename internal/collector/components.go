package collector

import (
	"context"
	"time"

	"github.com/Mobizinc/changegate/internal/types"
)

// midServerCheckinWindow is how recently a MID server must have phoned home
// for recently_checked_in to pass.
const midServerCheckinWindow = time.Hour

func registerBuiltins(r *Registry) {
	r.Register(types.ComponentCatalogItem, Definition{
		CheckNames: []string{"has_name", "has_category", "has_workflow", "is_active"},
		Fetch:      fetchCatalogItem,
		Derive: func(facts *types.ComponentFacts) map[string]bool {
			ci := facts.CatalogItem
			return map[string]bool{
				"has_name":     ci.Name != "",
				"has_category": ci.Category != "",
				"has_workflow": ci.Workflow != "" || ci.FlowDesignerFlow != "",
				"is_active":    ci.Active,
			}
		},
	})

	r.Register(types.ComponentLDAPServer, Definition{
		CheckNames: []string{"has_listener_enabled", "has_mid_server", "has_urls"},
		Fetch:      fetchLDAPServer,
		Derive: func(facts *types.ComponentFacts) map[string]bool {
			ls := facts.LDAPServer
			return map[string]bool{
				"has_listener_enabled": ls.ListenerEnabled,
				"has_mid_server":       ls.MIDServer != "",
				"has_urls":             ls.ServerURLs != "",
			}
		},
	})

	r.Register(types.ComponentMIDServer, Definition{
		CheckNames: []string{"is_up", "has_capabilities", "recently_checked_in"},
		Fetch:      fetchMIDServer,
		Derive: func(facts *types.ComponentFacts) map[string]bool {
			ms := facts.MIDServer
			recent := false
			if ms.LastRefresh != nil {
				recent = time.Since(*ms.LastRefresh) <= midServerCheckinWindow
			}
			return map[string]bool{
				"is_up":               ms.Status == "Up",
				"has_capabilities":    ms.Capabilities != "",
				"recently_checked_in": recent,
			}
		},
	})

	r.Register(types.ComponentWorkflow, Definition{
		CheckNames: []string{"is_published", "not_checked_out", "has_scope"},
		Fetch:      fetchWorkflow,
		Derive: func(facts *types.ComponentFacts) map[string]bool {
			wf := facts.Workflow
			return map[string]bool{
				"is_published":    wf.Published,
				"not_checked_out": wf.CheckedOutBy == "",
				"has_scope":       wf.Scope != "",
			}
		},
	})
}

func fetchCatalogItem(ctx context.Context, client RecordFetcher, componentID string) (*types.ComponentFacts, error) {
	rec, err := client.GetRecord(ctx, "sc_cat_item", componentID,
		[]string{"sys_id", "name", "short_description", "category", "workflow", "flow_designer_flow", "active"})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return &types.ComponentFacts{
		ComponentType: types.ComponentCatalogItem,
		CatalogItem: &types.CatalogItemFacts{
			SysID:            rec.GetString("sys_id"),
			Name:             rec.GetString("name"),
			ShortDescription: rec.GetString("short_description"),
			Category:         rec.GetString("category"),
			Workflow:         rec.GetString("workflow"),
			FlowDesignerFlow: rec.GetString("flow_designer_flow"),
			Active:           rec.GetBool("active"),
		},
	}, nil
}

func fetchLDAPServer(ctx context.Context, client RecordFetcher, componentID string) (*types.ComponentFacts, error) {
	rec, err := client.GetRecord(ctx, "ldap_server_config", componentID,
		[]string{"sys_id", "name", "listener", "mid_server", "server_url"})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return &types.ComponentFacts{
		ComponentType: types.ComponentLDAPServer,
		LDAPServer: &types.LDAPServerFacts{
			SysID:           rec.GetString("sys_id"),
			Name:            rec.GetString("name"),
			ListenerEnabled: rec.GetBool("listener"),
			MIDServer:       rec.GetString("mid_server"),
			ServerURLs:      rec.GetString("server_url"),
		},
	}, nil
}

func fetchMIDServer(ctx context.Context, client RecordFetcher, componentID string) (*types.ComponentFacts, error) {
	rec, err := client.GetRecord(ctx, "ecc_agent", componentID,
		[]string{"sys_id", "name", "status", "capabilities", "last_refreshed"})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return &types.ComponentFacts{
		ComponentType: types.ComponentMIDServer,
		MIDServer: &types.MIDServerFacts{
			SysID:        rec.GetString("sys_id"),
			Name:         rec.GetString("name"),
			Status:       rec.GetString("status"),
			Capabilities: rec.GetString("capabilities"),
			LastRefresh:  rec.GetTime("last_refreshed"),
		},
	}, nil
}

func fetchWorkflow(ctx context.Context, client RecordFetcher, componentID string) (*types.ComponentFacts, error) {
	rec, err := client.GetRecord(ctx, "wf_workflow", componentID,
		[]string{"sys_id", "name", "published", "checked_out_by", "sys_scope"})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return &types.ComponentFacts{
		ComponentType: types.ComponentWorkflow,
		Workflow: &types.WorkflowFacts{
			SysID:        rec.GetString("sys_id"),
			Name:         rec.GetString("name"),
			Published:    rec.GetBool("published"),
			CheckedOutBy: rec.GetString("checked_out_by"),
			Scope:        rec.GetString("sys_scope"),
		},
	}, nil
}
