package k8sdriver

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// NewClientConfig builds a Kubernetes REST config, preferring in-cluster
// config (when running as a pod) and falling back to kubeconfig. An
// explicit kubeconfig path, if non-empty, always wins.
func NewClientConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath == "" {
		if cfg, err := rest.InClusterConfig(); err == nil {
			return cfg, nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("k8sdriver: resolve home dir: %w", err)
		}
		kubeconfigPath = filepath.Join(home, ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
}

// NewClientset builds a clientset from the given kubeconfig path (empty for
// in-cluster/default lookup).
func NewClientset(kubeconfigPath string) (*kubernetes.Clientset, *rest.Config, error) {
	cfg, err := NewClientConfig(kubeconfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("k8sdriver: build config: %w", err)
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("k8sdriver: new clientset: %w", err)
	}
	return cs, cfg, nil
}
