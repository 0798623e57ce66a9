// Package dispatch maps the RPC surface's snake_case method names
// (SPEC_FULL §6) onto facade.Service calls through an explicit
// switch — no reflection, matching the teacher's "decorator chains →
// explicit guards" idiom extended to dispatch. It backs both the
// in-process "exec" CLI subcommand and the broker binary's AMQP
// bus.Dispatcher.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/imubit/data-agent/pkg/facade"
	"github.com/imubit/data-agent/pkg/provision"
	"github.com/imubit/data-agent/pkg/safemanipulator"
)

// MethodNames lists every dispatchable method, in RPC surface order;
// the broker binary's list_services prints this.
var MethodNames = []string{
	"list_supported_connectors", "target_info",
	"list_connections", "create_connection", "delete_connection",
	"is_connected", "enable_connection", "disable_connection", "connection_info",
	"list_tags", "read_tag_attributes", "read_tag_values", "read_tag_values_period", "delete_tag",
	"list_manipulated_tags", "register_manipulated_tags", "unregister_manipulated_tags", "write_manipulated_tags",
	"list_jobs", "create_job", "remove_job", "list_job_tags", "add_job_tags", "remove_job_tags",
	"copy_period", "copy_attributes", "provision_config",
}

// Dispatch resolves method against svc using args, matching
// bus.Dispatcher's signature so it plugs directly into bus.RPCServer.Serve.
func Dispatch(ctx context.Context, svc *facade.Service, method string, args map[string]any) (any, error) {
	switch method {
	case "list_supported_connectors":
		return svc.ListSupportedConnectors(), nil

	case "target_info":
		return svc.TargetInfo(str(args, "target_ref"), str(args, "conn_type"))

	case "list_connections":
		return svc.ListConnections(), nil

	case "create_connection":
		return svc.CreateConnection(str(args, "conn_name"), str(args, "conn_type"), boolArg(args, "enabled"), boolArg(args, "ignore_existing"), mapArg(args, "params"))

	case "delete_connection":
		return nil, svc.DeleteConnection(str(args, "conn_name"))

	case "is_connected":
		return svc.IsConnected(str(args, "conn_name"))

	case "enable_connection":
		return nil, svc.EnableConnection(str(args, "conn_name"))

	case "disable_connection":
		return nil, svc.DisableConnection(str(args, "conn_name"))

	case "connection_info":
		return svc.ConnectionInfo(str(args, "conn_name"))

	case "list_tags":
		return svc.ListTags(str(args, "conn_name"), args["filter"], args["include_attributes"], boolArg(args, "recursive"), intArg(args, "max_results"))

	case "read_tag_attributes":
		return svc.ReadTagAttributes(str(args, "conn_name"), strSlice(args, "tags"), strSlice(args, "attributes"))

	case "read_tag_values":
		return svc.ReadTagValues(str(args, "conn_name"), strSlice(args, "tags"))

	case "read_tag_values_period":
		first, err := timeArg(args, "first_timestamp")
		if err != nil {
			return nil, err
		}
		last, err := timeArg(args, "last_timestamp")
		if err != nil {
			return nil, err
		}
		freq := durationArg(args, "time_frequency")
		return svc.ReadTagValuesPeriod(ctx, str(args, "conn_name"), strSlice(args, "tags"), first, last, freq, nil)

	case "delete_tag":
		return svc.DeleteTag(str(args, "conn_name"), strSlice(args, "tags"))

	case "list_manipulated_tags":
		return svc.ListManipulatedTags(str(args, "conn_name"))

	case "register_manipulated_tags":
		bounds, err := safemanipulator.ParseBoundsMap(rawBoundsMap(args, "tags"))
		if err != nil {
			return nil, err
		}
		return nil, svc.RegisterManipulatedTags(str(args, "conn_name"), bounds)

	case "unregister_manipulated_tags":
		return nil, svc.UnregisterManipulatedTags(str(args, "conn_name"), strSlice(args, "tags"))

	case "write_manipulated_tags":
		return svc.WriteManipulatedTags(str(args, "conn_name"), mapArg(args, "values"), boolArg(args, "wait_for_result"))

	case "list_jobs":
		return svc.ListJobs(str(args, "conn_name")), nil

	case "create_job":
		return svc.CreateJob(str(args, "job_id"), str(args, "conn_name"), strSlice(args, "tags"), intArg(args, "seconds"), boolArg(args, "update_on_conflict"), boolArg(args, "from_cache"))

	case "remove_job":
		return nil, svc.RemoveJob(strSlice(args, "job_id"), true)

	case "list_job_tags":
		return svc.ListJobTags(str(args, "job_id"))

	case "add_job_tags":
		return nil, svc.AddJobTags(str(args, "job_id"), strSlice(args, "tags"))

	case "remove_job_tags":
		return nil, svc.RemoveJobTags(str(args, "job_id"), strSlice(args, "tags"))

	case "copy_period":
		first, err := timeArg(args, "first_timestamp")
		if err != nil {
			return nil, err
		}
		last, err := timeArg(args, "last_timestamp")
		if err != nil {
			return nil, err
		}
		freq := durationArg(args, "time_frequency")
		return svc.CopyPeriod(ctx, str(args, "src_conn_name"), str(args, "dst_conn_name"), strSlice(args, "tags"), first, last, freq)

	case "copy_attributes":
		return svc.CopyAttributes(str(args, "src_conn_name"), strSlice(args, "tags"))

	case "provision_config":
		raw, _ := args["config"].(string)
		var doc provision.Document
		if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("dispatch: decoding provisioning config: %w", err)
		}
		return nil, provision.Apply(svc, doc, logrus.NewEntry(logrus.StandardLogger()))

	default:
		return nil, fmt.Errorf("dispatch: unrecognized method %q", method)
	}
}

func str(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func durationArg(args map[string]any, key string) time.Duration {
	return time.Duration(intArg(args, key)) * time.Second
}

func timeArg(args map[string]any, key string) (time.Time, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return time.Time{}, nil
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("dispatch: %s must be an RFC3339 string", key)
	}
	return time.Parse(time.RFC3339, s)
}

func strSlice(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		if ss, ok := args[key].([]string); ok {
			return ss
		}
		if s, ok := args[key].(string); ok {
			return []string{s}
		}
	}
	return out
}

func mapArg(args map[string]any, key string) map[string]any {
	m, _ := args[key].(map[string]any)
	return m
}

// rawBoundsMap extracts the {tag: {lb, ub, rb}} shape as untyped maps,
// preserving key presence/absence for safemanipulator.ParseBoundsMap to
// validate — converting straight to safemanipulator.Bounds here would
// lose the "key missing entirely" signal.
func rawBoundsMap(args map[string]any, key string) map[string]map[string]any {
	raw, _ := args[key].(map[string]any)
	out := make(map[string]map[string]any, len(raw))
	for tag, v := range raw {
		m, _ := v.(map[string]any)
		out[tag] = m
	}
	return out
}
