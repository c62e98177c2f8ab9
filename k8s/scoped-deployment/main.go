package main

import (
	"encoding/json"
	"fmt"
	"os"

	appsv1 "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/apps/v1"
	corev1 "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/core/v1"
	metav1 "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/meta/v1"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"gopkg.in/yaml.v3"

	"gitlab.com/pnathan/scoped/src/lib/scopeapi"
	"gitlab.com/pnathan/scoped/src/lib/scopes"
)

const replicas = 3

func main() {

	deploymentName := "scoped"
	namespace := deploymentName
	version := os.Getenv("SCOPED_VERSION")
	scopeFile := os.Getenv("SCOPED_SCOPES")
	pulumi.Run(func(ctx *pulumi.Context) error {

		appLabels := pulumi.StringMap{
			"app":     pulumi.String(deploymentName),
			"version": pulumi.String(version),
		}

		md := &metav1.ObjectMetaArgs{
			Labels:    appLabels,
			Namespace: pulumi.StringPtr(namespace),
			Name:      pulumi.StringPtr(deploymentName),
		}

		dat := scopeapi.Peerage{}
		for i := 0; i < replicas; i++ {
			dat.Peers = append(dat.Peers, fmt.Sprintf("http://%s-%d.%s.%s:1337", deploymentName, i, deploymentName, namespace))
		}
		peerData, err := json.Marshal(dat)
		if err != nil {
			return err
		}

		// the scope file is validated here so a bad one never reaches the pods
		sf := &scopes.ScopeFile{}
		if scopeFile != "" {
			sf, err = scopes.LoadScopes(scopeFile)
			if err != nil {
				return err
			}
		}
		scopeData, err := yaml.Marshal(sf)
		if err != nil {
			return err
		}

		scopedConfig, err := corev1.NewConfigMap(ctx, deploymentName, &corev1.ConfigMapArgs{
			Metadata: &metav1.ObjectMetaArgs{
				Labels:    appLabels,
				Name:      pulumi.StringPtr(deploymentName),
				Namespace: pulumi.String(namespace),
			},
			Data: pulumi.StringMap{
				"peers.json":  pulumi.String(string(peerData)),
				"scopes.yaml": pulumi.String(string(scopeData)),
			},
		})
		if err != nil {
			return err
		}

		scopedConfigName := scopedConfig.Metadata.Name()

		svc, err := corev1.NewService(ctx, deploymentName, &corev1.ServiceArgs{
			Metadata: md,
			Spec: corev1.ServiceSpecArgs{
				ClusterIP: pulumi.StringPtr("None"),
				Ports: corev1.ServicePortArray{
					corev1.ServicePortArgs{
						TargetPort: pulumi.Int(1337),
						Port:       pulumi.Int(80),
					},
				},
				Selector: appLabels,
			},
		},
		)
		if err != nil {
			return err
		}

		ctx.Export("svc name", svc.Metadata.Elem().Name())

		selector := &metav1.LabelSelectorArgs{
			MatchLabels: appLabels,
		}
		scopedConfigVolumeName := pulumi.String("scoped-configs")

		ss, err := appsv1.NewStatefulSet(ctx, deploymentName, &appsv1.StatefulSetArgs{
			Metadata: md,
			Spec: appsv1.StatefulSetSpecArgs{
				MinReadySeconds:     pulumi.Int(10),
				PodManagementPolicy: pulumi.StringPtr("OrderedReady"),
				Replicas:            pulumi.Int(replicas),
				Selector:            selector,
				ServiceName:         pulumi.String(deploymentName),
				Template: &corev1.PodTemplateSpecArgs{
					Metadata: &metav1.ObjectMetaArgs{
						Labels: appLabels,
					},
					Spec: &corev1.PodSpecArgs{
						Containers: corev1.ContainerArray{
							corev1.ContainerArgs{
								Name: pulumi.String("scoped"),
								Args: pulumi.StringArray{
									pulumi.String("/scoped"),
									pulumi.String("-q"), pulumi.String("/etc/scoped/peers.json"),
									pulumi.String("-f"), pulumi.String("/etc/scoped/scopes.yaml"),
								},
								ImagePullPolicy: pulumi.String("Always"),
								Image:           pulumi.String(fmt.Sprintf("gcr.io/sapient-fabric-207305/scoped:%s", version)),
								Ports: corev1.ContainerPortArray{
									corev1.ContainerPortArgs{
										ContainerPort: pulumi.Int(1337),
									},
								},
								ReadinessProbe: &corev1.ProbeArgs{
									HttpGet: &corev1.HTTPGetActionArgs{
										Path: pulumi.String("/healthz"),
										Port: pulumi.Int(1337),
									},
								},
								VolumeMounts: &corev1.VolumeMountArray{
									&corev1.VolumeMountArgs{
										Name:      scopedConfigVolumeName,
										MountPath: pulumi.String("/etc/scoped/"),
									},
								},
							},
						},
						Volumes: &corev1.VolumeArray{
							&corev1.VolumeArgs{
								Name: scopedConfigVolumeName,
								ConfigMap: &corev1.ConfigMapVolumeSourceArgs{
									Name: scopedConfigName,
								},
							},
						},
					},
				},
			},
		})
		if err != nil {
			return err
		}

		ctx.Export("ss name", ss.Metadata.Elem().Name())

		return nil
	})
}
