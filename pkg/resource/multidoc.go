package resource

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	yamlv2 "gopkg.in/yaml.v2"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func schemaGVK(k Kind) schema.GroupVersionKind {
	return schema.FromAPIVersionAndKind(k.APIVersion(), string(k))
}

// MarshalMultidoc writes the objects as a stream of YAML documents,
// in the order given.
func MarshalMultidoc(objs []Object) ([]byte, error) {
	var buf bytes.Buffer
	for i, o := range objs {
		o = o.DeepCopy()
		o.setTypeMeta()
		b, err := yaml.Marshal(o.Runtime())
		if err != nil {
			return nil, errors.Wrapf(err, "marshalling %s", o.ID())
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

type typeHeader struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
}

// ParseMultidoc takes a multidoc YAML stream and constructs the objects
// represented therein, in document order.
func ParseMultidoc(multidoc []byte, source string) ([]Object, error) {
	var objs []Object
	seen := map[ID]bool{}
	decoder := yamlv2.NewDecoder(bytes.NewReader(multidoc))
	var err error
	for {
		// In order to use the decoder to extract raw documents
		// from the stream, we decode generically and encode again.
		var val interface{}
		if err = decoder.Decode(&val); err != nil {
			break
		}
		if val == nil {
			continue
		}
		doc, err := yamlv2.Marshal(val)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing YAML doc from %q", source)
		}
		obj, err := unmarshalObject(doc)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing YAML doc from %q", source)
		}
		id := obj.ID()
		if seen[id] {
			return nil, fmt.Errorf(`duplicate definition of '%s' (in %s)`, id, source)
		}
		seen[id] = true
		objs = append(objs, obj)
	}
	if err != io.EOF {
		return objs, errors.Wrapf(err, "scanning multidoc from %q", source)
	}
	return objs, nil
}

func unmarshalObject(doc []byte) (Object, error) {
	var header typeHeader
	if err := yaml.Unmarshal(doc, &header); err != nil {
		return Object{}, err
	}
	var (
		obj  Object
		into interface{}
	)
	switch Kind(header.Kind) {
	case KindNamespace:
		ns := &corev1.Namespace{}
		obj, into = NewNamespace(ns), ns
	case KindPod:
		pod := &corev1.Pod{}
		obj, into = NewPod(pod), pod
	case KindDeployment:
		d := &appsv1.Deployment{}
		obj, into = NewDeployment(d), d
	case KindReplicationController:
		rc := &corev1.ReplicationController{}
		obj, into = NewReplicationController(rc), rc
	case KindReplicaSet:
		rs := &appsv1.ReplicaSet{}
		obj, into = NewReplicaSet(rs), rs
	case KindService:
		svc := &corev1.Service{}
		obj, into = NewService(svc), svc
	default:
		return Object{}, &UnsupportedKindError{APIVersion: header.APIVersion, Kind: header.Kind}
	}
	if header.APIVersion != "" && header.APIVersion != obj.Kind().APIVersion() {
		return Object{}, &UnsupportedKindError{APIVersion: header.APIVersion, Kind: header.Kind}
	}
	if err := yaml.Unmarshal(doc, into); err != nil {
		return Object{}, errors.Wrapf(err, "decoding %s", header.Kind)
	}
	return obj, nil
}
