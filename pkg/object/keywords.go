package object

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cuemby/hive/pkg/apierrors"
	"github.com/cuemby/hive/pkg/types"
)

// Keyword format names
const (
	FormatString   = "string"
	FormatBool     = "boolean"
	FormatInt      = "integer"
	FormatDuration = "duration"
	FormatList     = "list"
	FormatDict     = "dict"
)

// Keyword describes one configuration keyword
type Keyword struct {
	// Section is "DEFAULT", "data", a resource family, or "family.type" for
	// driver specific keywords
	Section    string   `json:"section"`
	Option     string   `json:"option"`
	Kinds      []Kind   `json:"kinds"`
	Format     string   `json:"format"`
	Required   bool     `json:"required,omitempty"`
	Default    string   `json:"default,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	Text       string   `json:"text"`
}

// Families lists the resource families in start order
var Families = []string{"disk", "fs", "share", "ip", "container", "app", "sync", "task"}

var svcOnly = []Kind{KindSvc}
var svcVol = []Kind{KindSvc, KindVol}

var keywords = []Keyword{
	{Section: "DEFAULT", Option: "nodes", Kinds: svcVol, Format: FormatList, Text: "The nodes the object can run on, in preference order."},
	{Section: "DEFAULT", Option: "topology", Kinds: svcVol, Format: FormatString, Default: string(types.TopologyFailover),
		Candidates: []string{string(types.TopologyFailover), string(types.TopologyFlex)}, Text: "failover runs one instance, flex runs flex_target instances."},
	{Section: "DEFAULT", Option: "orchestrate", Kinds: svcVol, Format: FormatString, Default: string(types.OrchestrateNo),
		Candidates: []string{string(types.OrchestrateNo), string(types.OrchestrateHA), string(types.OrchestrateStart)}, Text: "The automatic orchestration mode."},
	{Section: "DEFAULT", Option: "placement", Kinds: svcVol, Format: FormatString, Default: "nodes order",
		Candidates: []string{"nodes order", "score", "shift", "spread"}, Text: "The policy ranking the candidate nodes."},
	{Section: "DEFAULT", Option: "flex_target", Kinds: svcOnly, Format: FormatInt, Text: "The number of instances a flex service runs."},
	{Section: "DEFAULT", Option: "priority", Kinds: svcVol, Format: FormatInt, Default: "50", Text: "Lower values are orchestrated first."},
	{Section: "DEFAULT", Option: "constraints", Kinds: svcVol, Format: FormatDict, Text: "Node labels a candidate node must carry."},
	{Section: "DEFAULT", Option: "subsets", Kinds: svcVol, Format: FormatDict, Text: "Per subset settings, keyed by family:subset."},

	{Section: "*", Option: "type", Kinds: svcVol, Format: FormatString, Required: true, Text: "The driver of the resource."},
	{Section: "*", Option: "subset", Kinds: svcVol, Format: FormatString, Text: "The subset the resource belongs to."},
	{Section: "*", Option: "optional", Kinds: svcVol, Format: FormatBool, Default: "false", Text: "Failures of the resource do not abort actions."},
	{Section: "*", Option: "disable", Kinds: svcVol, Format: FormatBool, Default: "false", Text: "The resource is ignored by actions and status."},
	{Section: "*", Option: "monitor", Kinds: svcVol, Format: FormatBool, Default: "false", Text: "A monitored resource going down triggers a restart."},
	{Section: "*", Option: "standby", Kinds: svcVol, Format: FormatBool, Default: "false", Text: "The resource stays up on standby nodes."},
	{Section: "*", Option: "encap", Kinds: svcOnly, Format: FormatBool, Default: "false", Text: "The resource runs inside an encapsulated container."},
	{Section: "*", Option: "restart", Kinds: svcVol, Format: FormatInt, Default: "0", Text: "The number of automatic restarts after a failure."},
	{Section: "*", Option: "timeout", Kinds: svcVol, Format: FormatDuration, Default: "30s", Text: "The maximum duration of one resource action."},

	{Section: "fs.directory", Option: "path", Kinds: svcVol, Format: FormatString, Required: true, Text: "The directory to manage."},
	{Section: "fs.directory", Option: "perm", Kinds: svcVol, Format: FormatString, Default: "0755", Text: "The directory permissions."},

	{Section: "app.simple", Option: "start", Kinds: svcOnly, Format: FormatString, Required: true, Text: "The command starting the application."},
	{Section: "app.simple", Option: "stop", Kinds: svcOnly, Format: FormatString, Text: "The command stopping the application. Defaults to killing the started process."},
	{Section: "app.simple", Option: "check", Kinds: svcOnly, Format: FormatString, Text: "A command returning 0 when the application is up."},
	{Section: "app.simple", Option: "check_tcp", Kinds: svcOnly, Format: FormatString, Text: "A host:port accepting connections when the application is up."},
	{Section: "app.simple", Option: "check_http", Kinds: svcOnly, Format: FormatString, Text: "A URL answering check_http_status when the application is up."},
	{Section: "app.simple", Option: "check_http_status", Kinds: svcOnly, Format: FormatString, Default: "200-399", Text: "The accepted status codes of check_http: 200, 200-299 or 2xx."},
	{Section: "app.simple", Option: "cwd", Kinds: svcOnly, Format: FormatString, Text: "The working directory of the commands."},

	{Section: "ip.probe", Option: "addr", Kinds: svcOnly, Format: FormatString, Required: true, Text: "The address to probe, host:port."},

	{Section: "container.containerd", Option: "image", Kinds: svcOnly, Format: FormatString, Required: true, Text: "The container image reference."},
	{Section: "container.containerd", Option: "command", Kinds: svcOnly, Format: FormatString, Text: "The command overriding the image entrypoint."},
	{Section: "container.containerd", Option: "volume", Kinds: svcOnly, Format: FormatString, Text: "A host directory bind mounted in the container, src:dst."},

	{Section: "sync.noop", Option: "schedule", Kinds: svcVol, Format: FormatString, Text: "When the sync runs."},

	{Section: "data", Option: "*", Kinds: []Kind{KindCfg, KindSec, KindUsr}, Format: FormatString, Text: "A key of the object data."},
}

// Keywords returns the keywords applying to objects of kind k, sorted by
// section and option
func Keywords(k Kind) []Keyword {
	var result []Keyword
	for _, kw := range keywords {
		for _, kk := range kw.Kinds {
			if kk == k {
				result = append(result, kw)
				break
			}
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Section != result[j].Section {
			return result[i].Section < result[j].Section
		}
		return result[i].Option < result[j].Option
	})
	return result
}

func lookupKeyword(k Kind, section, option string) (Keyword, bool) {
	for _, kw := range keywords {
		if kw.Section != section || kw.Option != option {
			continue
		}
		for _, kk := range kw.Kinds {
			if kk == k {
				return kw, true
			}
		}
	}
	return Keyword{}, false
}

// Validate checks a config against the keyword table of kind k
func Validate(k Kind, c *Config) error {
	if k.IsDataKind() {
		if len(c.Resources) > 0 {
			return apierrors.BadRequest("resources", "%s objects have no resources", k)
		}
		return nil
	}
	if len(c.Data) > 0 {
		return apierrors.BadRequest("data", "%s objects have no data", k)
	}

	checks := map[string]string{
		"topology":    string(c.Topology),
		"orchestrate": string(c.Orchestrate),
		"placement":   c.Placement,
	}
	for option, value := range checks {
		if value == "" {
			continue
		}
		if kw, ok := lookupKeyword(k, "DEFAULT", option); ok && !isCandidate(kw, value) {
			return apierrors.BadRequest(option, "invalid value %q, expected one of %v", value, kw.Candidates)
		}
	}

	for _, rid := range c.RIDs() {
		r := c.Resources[rid]
		if err := validateResource(k, rid, r); err != nil {
			return err
		}
	}

	for key := range c.Subsets {
		if family, _ := ParseSubsetKey(key); !isFamily(family) {
			return apierrors.BadRequest("subsets", "unknown family in subset %q", key)
		}
	}
	return nil
}

func validateResource(k Kind, rid string, r ResourceConfig) error {
	family := Family(rid)
	if !isFamily(family) || len(rid) == len(family) {
		return apierrors.BadRequest(rid, "invalid resource id, expected <family>#<index>")
	}
	if r.Type == "" {
		return apierrors.BadRequest(rid+".type", "resource type is required")
	}
	if r.Restart < 0 {
		return apierrors.BadRequest(rid+".restart", "must be positive")
	}

	section := family + "." + r.Type
	for option, value := range r.Options {
		kw, ok := lookupKeyword(k, section, option)
		if !ok {
			return apierrors.BadRequest(rid+"."+option, "unknown keyword for %s", section)
		}
		if err := checkFormat(kw, value); err != nil {
			return apierrors.BadRequest(rid+"."+option, "%v", err)
		}
	}
	for _, kw := range keywords {
		if kw.Section == section && kw.Required {
			if _, ok := r.Options[kw.Option]; !ok {
				return apierrors.BadRequest(rid+"."+kw.Option, "keyword is required for %s", section)
			}
		}
	}
	return nil
}

func checkFormat(kw Keyword, value string) error {
	switch kw.Format {
	case FormatBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("invalid boolean %q", value)
		}
	case FormatInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
	case FormatDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
	}
	if !isCandidate(kw, value) {
		return fmt.Errorf("invalid value %q, expected one of %v", value, kw.Candidates)
	}
	return nil
}

func isCandidate(kw Keyword, value string) bool {
	if len(kw.Candidates) == 0 {
		return true
	}
	for _, c := range kw.Candidates {
		if c == value {
			return true
		}
	}
	return false
}

func isFamily(family string) bool {
	for _, f := range Families {
		if f == family {
			return true
		}
	}
	return false
}
