package k8s

import (
	"context"
	"fmt"
	"path/filepath"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Client provides Kubernetes API operations for materializing a model
// version's deployment onto real serving workloads. It implements
// pkg/deployment's SlotManager: one Job per instance slot, replaced in place
// as the rolling/canary/blue-green controller advances a model version
// through slots (spec.md §4.8.1).
type Client struct {
	clientset *kubernetes.Clientset
	namespace string
	ctx       context.Context
}

// NewClient creates a new Kubernetes client
func NewClient(namespace string) (*Client, error) {
	config, err := getKubeConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	if namespace == "" {
		namespace = "default"
	}

	return &Client{
		clientset: clientset,
		namespace: namespace,
		ctx:       context.Background(),
	}, nil
}

// getKubeConfig returns the Kubernetes configuration
func getKubeConfig() (*rest.Config, error) {
	// Try in-cluster config first
	config, err := rest.InClusterConfig()
	if err == nil {
		return config, nil
	}

	// Fall back to kubeconfig file
	var kubeconfig string
	if home := homedir.HomeDir(); home != "" {
		kubeconfig = filepath.Join(home, ".kube", "config")
	}

	config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// UpdateSlot creates (or replaces) the Job backing one serving instance slot
// for modelID/version, satisfying pkg/deployment.SlotManager. Slot Jobs are
// named deterministically so re-running UpdateSlot for the same slot during
// a later deployment deletes the previous version's Job before creating the
// new one.
func (c *Client) UpdateSlot(modelID, version string, slot int) error {
	jobName := slotJobName(modelID, slot)
	_ = c.DeleteJob(jobName)

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: c.namespace,
			Labels: map[string]string{
				"app":      "mlforge-serving",
				"model-id": modelID,
				"slot":     fmt.Sprintf("%d", slot),
			},
		},
		Spec: batchv1.JobSpec{
			TTLSecondsAfterFinished: int32Ptr(300),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"app":      "mlforge-serving",
						"model-id": modelID,
						"slot":     fmt.Sprintf("%d", slot),
					},
				},
				Spec: corev1.PodSpec{
					ServiceAccountName: "model-serving",
					RestartPolicy:      corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:  "predictor",
							Image: "mlforge/predictor:latest",
							Env: []corev1.EnvVar{
								{Name: "MODEL_ID", Value: modelID},
								{Name: "MODEL_VERSION", Value: version},
								{Name: "SLOT", Value: fmt.Sprintf("%d", slot)},
							},
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    parseQuantity("500m"),
									corev1.ResourceMemory: parseQuantity("1Gi"),
								},
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    parseQuantity("2000m"),
									corev1.ResourceMemory: parseQuantity("4Gi"),
								},
							},
						},
					},
				},
			},
		},
	}

	_, err := c.clientset.BatchV1().Jobs(c.namespace).Create(c.ctx, job, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("failed to create slot job: %w", err)
	}
	return nil
}

// GetJobStatus returns "completed", "failed", "running", or "pending" for a
// named Job.
func (c *Client) GetJobStatus(jobName string) (string, error) {
	job, err := c.clientset.BatchV1().Jobs(c.namespace).Get(c.ctx, jobName, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get job status: %w", err)
	}

	if job.Status.Succeeded > 0 {
		return "completed", nil
	}
	if job.Status.Failed > 0 {
		return "failed", nil
	}
	if job.Status.Active > 0 {
		return "running", nil
	}
	return "pending", nil
}

// DeleteJob deletes a Kubernetes Job
func (c *Client) DeleteJob(jobName string) error {
	propagationPolicy := metav1.DeletePropagationBackground
	err := c.clientset.BatchV1().Jobs(c.namespace).Delete(c.ctx, jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagationPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// GetActiveSlotCount returns the number of currently active serving slots
// for a model, across all versions.
func (c *Client) GetActiveSlotCount(modelID string) (int, error) {
	jobs, err := c.clientset.BatchV1().Jobs(c.namespace).List(c.ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("app=mlforge-serving,model-id=%s", modelID),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	activeCount := 0
	for _, job := range jobs.Items {
		if job.Status.Active > 0 {
			activeCount++
		}
	}
	return activeCount, nil
}

func slotJobName(modelID string, slot int) string {
	return fmt.Sprintf("model-%s-slot-%d", modelID, slot)
}

func int32Ptr(i int32) *int32 {
	return &i
}

func parseQuantity(s string) resource.Quantity {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return resource.MustParse("0")
	}
	return q
}
