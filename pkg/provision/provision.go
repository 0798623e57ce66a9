// Package provision applies a static provisioning document to an
// already-running facade.Service, grounded on
// original_source/.../config_template.py and the provision_config
// entry point in original_source/.../api.py. It is new ambient
// surface supplementing spec.md §6's "Provisioning document" into a
// concrete operation (SPEC_FULL §4.8).
package provision

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imubit/data-agent/pkg/facade"
	"github.com/imubit/data-agent/pkg/safemanipulator"
)

// JobSpec is one entry of a connection's daq_jobs map.
type JobSpec struct {
	Tags       []string `yaml:"tags"`
	SampleRate int      `yaml:"sample_rate"`
}

// ConnectionSpec is one entry of the provisioning document, keyed by
// connection name. ManipulatedTags is decoded as a raw map, not a typed
// bounds struct, so that a tag entry missing one of lb/ub/rb entirely
// (as opposed to carrying it with a null value) can still be detected
// by safemanipulator.ParseBoundsMap — see its doc comment.
type ConnectionSpec struct {
	DaqJobs         map[string]JobSpec        `yaml:"daq_jobs"`
	ManipulatedTags map[string]map[string]any `yaml:"manipulated_tags"`
}

// Document is the full provisioning document: {connName: {...}}.
type Document map[string]ConnectionSpec

// Apply walks doc and, for each connection: creates each named job if
// absent, else adds any missing tags to the existing job (sample-rate
// drift on an existing job id is intentionally ignored — SPEC_FULL §9
// Open Question, preserved from the original's TODO); manipulated tags
// are registered additively.
func Apply(svc *facade.Service, doc Document, log *logrus.Entry) error {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "provision")

	for connName, spec := range doc {
		for jobID, jobSpec := range spec.DaqJobs {
			existingTags, err := svc.ListJobTags(jobID)
			if err == nil {
				missing := diff(jobSpec.Tags, existingTags)
				if len(missing) > 0 {
					if err := svc.AddJobTags(jobID, missing); err != nil {
						return err
					}
				}
				log.WithFields(logrus.Fields{"job_id": jobID, "conn": connName}).
					Warn("provisioned job already exists; sample_rate drift is not applied")
				continue
			}

			if _, err := svc.CreateJob(jobID, connName, jobSpec.Tags, jobSpec.SampleRate, false, false); err != nil {
				return err
			}
		}

		if len(spec.ManipulatedTags) == 0 {
			continue
		}
		bounds, err := safemanipulator.ParseBoundsMap(spec.ManipulatedTags)
		if err != nil {
			return err
		}
		if err := svc.RegisterManipulatedTags(connName, bounds); err != nil {
			return err
		}
	}

	return nil
}

func diff(want, have []string) []string {
	present := map[string]bool{}
	for _, t := range have {
		present[t] = true
	}
	var missing []string
	for _, t := range want {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return missing
}

// defaultProvisionTimeout is a nominal budget for a single Apply call.
// Neither Apply nor the CLI applies it: facade operations are not
// individually cancellable and the CLI calls Dispatch with
// context.Background().
const defaultProvisionTimeout = 30 * time.Second
