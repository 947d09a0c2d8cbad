package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"os"
	"strings"
)

const serviceAccountToken = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// K8sClient is the slice of the in-cluster Kubernetes API needed to follow a
// game server pod's logs.
type K8sClient struct {
	namespace string
	baseURL   string
	tokenPath string
	client    *http.Client
}

func NewK8sClient(namespace string) *K8sClient {
	return &K8sClient{
		namespace: namespace,
		baseURL:   inClusterBase(),
		tokenPath: serviceAccountToken,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

func inClusterBase() string {
	host := os.Getenv("KUBERNETES_SERVICE_HOST")
	port := os.Getenv("KUBERNETES_SERVICE_PORT")
	if host == "" || port == "" {
		return "https://kubernetes.default.svc"
	}
	return "https://" + host + ":" + port
}

type podList struct {
	Items []struct {
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
	} `json:"items"`
}

// FindPod returns the name of a Running pod matching labelSelector.
func (k *K8sClient) FindPod(ctx context.Context, labelSelector string) (string, error) {
	q := neturl.Values{}
	q.Set("labelSelector", labelSelector)
	q.Set("fieldSelector", "status.phase=Running")
	q.Set("limit", "1")

	body, err := k.get(ctx, "/api/v1/namespaces/"+k.namespace+"/pods", q)
	if err != nil {
		return "", fmt.Errorf("list pods: %w", err)
	}
	defer body.Close()

	var pods podList
	if err := json.NewDecoder(body).Decode(&pods); err != nil {
		return "", fmt.Errorf("decode pod list: %w", err)
	}
	if len(pods.Items) == 0 {
		return "", fmt.Errorf("no running pod with label %s", labelSelector)
	}
	return pods.Items[0].Metadata.Name, nil
}

// StreamLogs follows podName's log from roughly now on. The caller closes the stream.
func (k *K8sClient) StreamLogs(ctx context.Context, podName string) (io.ReadCloser, error) {
	q := neturl.Values{}
	q.Set("follow", "true")
	q.Set("sinceSeconds", "1")
	q.Set("timestamps", "false")

	body, err := k.get(ctx, "/api/v1/namespaces/"+k.namespace+"/pods/"+podName+"/log", q)
	if err != nil {
		return nil, fmt.Errorf("stream logs: %w", err)
	}
	return body, nil
}

func (k *K8sClient) get(ctx context.Context, path string, query neturl.Values) (io.ReadCloser, error) {
	token, err := os.ReadFile(k.tokenPath)
	if err != nil {
		return nil, fmt.Errorf("read sa token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(string(token)))

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}
