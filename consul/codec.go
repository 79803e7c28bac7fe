package consul

import (
	"strings"
)

// 角色标签
const (
	TagProvider = "provider"
	TagConsumer = "consumer"
)

// 端点属性标签的键，标签格式为 key=value
const (
	tagProtocol = "protocol"
	tagUsername = "username"
	tagPassword = "password"
	tagHost     = "host"
	tagPath     = "path"
)

// TTLCheckPrefix Consul 为服务内嵌检查生成的检查 ID 前缀
const TTLCheckPrefix = "service:"

// metaDotReplacement Consul 元数据的键不允许包含 "."
const metaDotReplacement = "__"

// EscapeMetaKey 将键中的 "." 替换为 "__"。
// 原本就包含 "__" 的键读回时会变成 "."，无法还原，见 LossyMetaKey。
func EscapeMetaKey(k string) string {
	return strings.ReplaceAll(k, ".", metaDotReplacement)
}

// LossyMetaKey 判断键经过转义和还原后是否会改变
func LossyMetaKey(k string) bool {
	return strings.Contains(k, metaDotReplacement)
}

// UnescapeMetaKey 将键中的 "__" 还原为 "."
func UnescapeMetaKey(k string) string {
	return strings.ReplaceAll(k, metaDotReplacement, ".")
}

// EscapeMeta 返回键经过转义的副本
func EscapeMeta(params map[string]string) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[EscapeMetaKey(k)] = v
	}
	return out
}

// UnescapeMeta 返回键经过还原的副本，总是非 nil
func UnescapeMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[UnescapeMetaKey(k)] = v
	}
	return out
}

// TTLCheckID 返回服务内嵌 TTL 检查的 ID
func TTLCheckID(serviceID string) string {
	return TTLCheckPrefix + serviceID
}

func buildTags(r *Registration) []string {
	tags := []string{tagProtocol + "=" + r.Protocol}
	if r.Username != "" {
		tags = append(tags, tagUsername+"="+r.Username)
	}
	if r.Password != "" {
		tags = append(tags, tagPassword+"="+r.Password)
	}
	tags = append(tags, tagHost+"="+r.Host)
	if r.Path != "" {
		tags = append(tags, tagPath+"="+r.Path)
	}
	if r.Port > 0 {
		tags = append(tags, TagProvider)
	} else {
		tags = append(tags, TagConsumer)
	}
	return tags
}

// applyTags 从 key=value 标签中还原端点属性，未识别的标签被忽略
func applyTags(inst *Instance, tags []string) {
	for _, tag := range tags {
		key, value, ok := strings.Cut(tag, "=")
		if !ok || value == "" {
			continue
		}
		switch key {
		case tagProtocol:
			inst.Protocol = value
		case tagUsername:
			inst.Username = value
		case tagPassword:
			inst.Password = value
		case tagHost:
			inst.Host = value
		case tagPath:
			inst.Path = value
		}
	}
}
