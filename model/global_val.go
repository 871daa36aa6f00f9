package model

// 全局默认值
// 1. 批大小与原求解器一致，1024
// 2. 推理超时 30s，设备挂起时不至于无限阻塞
// 3. 连续失败 3 次后终止（仅 stale 策略）

const (
	DefaultDictPath       = "system/nnfoamDict.ini"
	DefaultMaxBatchSize   = 1024
	DefaultInferTimeout   = "30s"
	DefaultMaxFailures    = 3
	DefaultWriteInterval  = 1
	DefaultMonitorHistory = 64
	DefaultMqttTopic      = "nnfoam/steps"

	MetaFileName = "nnfoamMeta.yaml"
)
