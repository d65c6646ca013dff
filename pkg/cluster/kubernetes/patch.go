package kubernetes

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/util/strategicpatch"
)

type deploymentSpec struct {
	Spec appsv1.DeploymentSpec `json:"spec"`
}

type deploymentAnnotations struct {
	Metadata struct {
		Annotations map[string]string `json:"annotations"`
	} `json:"metadata"`
}

// rollbackPatch computes the patch that takes a deployment from
// original to modified, as one strategic merge patch. The spec is
// diffed with the strategic merge rules, so containers and volumes are
// merged by name; annotations have no merge keys and are diffed as a
// plain JSON merge patch, then folded in.
func rollbackPatch(original, modified *appsv1.Deployment) ([]byte, error) {
	originalSpec, err := json.Marshal(deploymentSpec{Spec: original.Spec})
	if err != nil {
		return nil, fmt.Errorf("cannot transform original deployment spec to JSON: %s", err)
	}
	modifiedSpec, err := json.Marshal(deploymentSpec{Spec: modified.Spec})
	if err != nil {
		return nil, fmt.Errorf("cannot transform modified deployment spec to JSON: %s", err)
	}
	specPatch, err := strategicpatch.CreateTwoWayMergePatch(originalSpec, modifiedSpec, appsv1.Deployment{})
	if err != nil {
		return nil, err
	}

	annotationsPatch, err := createAnnotationsPatch(original.Annotations, modified.Annotations)
	if err != nil {
		return nil, err
	}
	return jsonpatch.MergeMergePatches(specPatch, annotationsPatch)
}

func createAnnotationsPatch(original, modified map[string]string) ([]byte, error) {
	var o, m deploymentAnnotations
	o.Metadata.Annotations = original
	m.Metadata.Annotations = modified
	originalJSON, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	modifiedJSON, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return jsonpatch.CreateMergePatch(originalJSON, modifiedJSON)
}
