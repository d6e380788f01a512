package logger

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	cwQueueSize  = 256
	cwPutTimeout = 5 * time.Second
)

// MetricPutter is the part of the CloudWatch client used for publishing.
type MetricPutter interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Puts happen on a single background worker so callers on hot paths never
// wait on AWS.
var (
	cwMu      sync.RWMutex
	cwQueue   chan []cwtypes.MetricDatum
	cwDropped atomic.Int64
)

// InitCloudWatch initialises the CloudWatch client using the provided region and
// namespace. If region is empty it falls back to the AWS_REGION environment
// variable. When the client cannot be created the function logs a warning and
// metrics publishing remains disabled.
func InitCloudWatch(ctx context.Context, region, namespace string) {
	log := GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	SetCloudWatchClient(cloudwatch.NewFromConfig(cfg), namespace)
	log.WithFields(Fields{"region": region, "namespace": namespace}).Info("initialized CloudWatch client")
}

// SetCloudWatchClient replaces the publishing client and restarts the worker.
// A nil client disables publishing. The previous worker finishes what it has
// queued and exits.
func SetCloudWatchClient(client MetricPutter, namespace string) {
	if namespace == "" {
		namespace = "QuoteFlow"
	}

	cwMu.Lock()
	if cwQueue != nil {
		close(cwQueue)
		cwQueue = nil
	}
	if client != nil {
		cwQueue = make(chan []cwtypes.MetricDatum, cwQueueSize)
		go putWorker(client, namespace, cwQueue)
	}
	cwMu.Unlock()
}

// CloudWatchDropped reports metric batches discarded on a full queue.
func CloudWatchDropped() int64 { return cwDropped.Load() }

// publishMetrics queues data for CloudWatch. It never blocks; a full queue
// drops the batch.
func publishMetrics(data []cwtypes.MetricDatum) {
	if len(data) == 0 {
		return
	}
	cwMu.RLock()
	defer cwMu.RUnlock()
	if cwQueue == nil {
		return
	}
	select {
	case cwQueue <- data:
	default:
		cwDropped.Add(1)
	}
}

func putWorker(client MetricPutter, namespace string, queue <-chan []cwtypes.MetricDatum) {
	log := GetLogger().WithComponent("cloudwatch")

	for data := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), cwPutTimeout)
		_, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(namespace),
			MetricData: data,
		})
		cancel()
		if err != nil {
			log.WithError(err).Warn("failed to publish CloudWatch metrics")
			continue
		}

		names := make([]string, 0, len(data))
		for _, datum := range data {
			if datum.MetricName != nil {
				names = append(names, *datum.MetricName)
			}
		}
		log.WithFields(Fields{"metrics": strings.Join(names, ",")}).Debug("published metrics to CloudWatch")
	}
}
