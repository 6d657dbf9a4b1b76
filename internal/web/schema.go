package web

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type wsSchemaRegistry struct {
	once    sync.Once
	initErr error
	request *jsonschema.Schema
	methods map[string]*jsonschema.Schema
}

var wsSchemas wsSchemaRegistry

func initWSSchemas() error {
	wsSchemas.once.Do(func() {
		reqSchema, err := jsonschema.CompileString("ws_request", wsRequestSchema)
		if err != nil {
			wsSchemas.initErr = err
			return
		}
		wsSchemas.request = reqSchema

		methods := map[string]string{
			"connect":              wsConnectParamsSchema,
			"ping":                 wsPingParamsSchema,
			"chat.send":            wsChatSendParamsSchema,
			"chat.subscribe":       wsTopicParamsSchema,
			"chat.state":           wsTopicParamsSchema,
			"chat.cancel":          wsTopicParamsSchema,
			"chat.history":         wsChatHistoryParamsSchema,
			"approval.resolve":     wsApprovalResolveParamsSchema,
			"approval.pending":     wsTopicParamsSchema,
			"topics.list":          wsEmptyParamsSchema,
			"topics.create":        wsTopicsCreateParamsSchema,
			"topics.rename":        wsTopicsRenameParamsSchema,
			"topics.delete":        wsTopicParamsSchema,
			"agents.list":          wsEmptyParamsSchema,
			"agents.validate":      wsAgentsValidateParamsSchema,
			"push.subscribe":       wsPushSubscribeParamsSchema,
			"push.unsubscribe":     wsPushUnsubscribeParamsSchema,
			"resource.subscribe":   wsResourceParamsSchema,
			"resource.unsubscribe": wsResourceParamsSchema,
		}

		wsSchemas.methods = make(map[string]*jsonschema.Schema, len(methods))
		for name, schema := range methods {
			compiled, err := jsonschema.CompileString("ws_method_"+name, schema)
			if err != nil {
				wsSchemas.initErr = err
				return
			}
			wsSchemas.methods[name] = compiled
		}
	})
	return wsSchemas.initErr
}

func validateRequestFrame(raw []byte, frame *wsFrame) error {
	if err := initWSSchemas(); err != nil {
		return err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := wsSchemas.request.Validate(payload); err != nil {
		return err
	}
	if frame == nil {
		return fmt.Errorf("missing frame")
	}
	if schema := wsSchemas.methods[frame.Method]; schema != nil {
		var params any
		if len(frame.Params) == 0 {
			params = map[string]any{}
		} else if err := json.Unmarshal(frame.Params, &params); err != nil {
			return err
		}
		if err := schema.Validate(params); err != nil {
			return err
		}
	}
	return nil
}

const wsRequestSchema = `{
  "type": "object",
  "required": ["type", "id", "method"],
  "properties": {
    "type": { "const": "req" },
    "id": { "type": "string", "minLength": 1 },
    "method": { "type": "string", "minLength": 1 },
    "params": {}
  },
  "additionalProperties": true
}`

const wsConnectParamsSchema = `{
  "type": "object",
  "required": ["minProtocol", "maxProtocol", "client"],
  "properties": {
    "minProtocol": { "type": "integer", "minimum": 1 },
    "maxProtocol": { "type": "integer", "minimum": 1 },
    "client": {
      "type": "object",
      "required": ["id", "version", "platform"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "version": { "type": "string", "minLength": 1 },
        "platform": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

const wsEmptyParamsSchema = `{
  "type": "object",
  "additionalProperties": true
}`

const wsPingParamsSchema = `{
  "type": "object",
  "additionalProperties": true
}`

const wsTopicParamsSchema = `{
  "type": "object",
  "required": ["topicId"],
  "properties": {
    "topicId": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const wsChatSendParamsSchema = `{
  "type": "object",
  "required": ["topicId", "content"],
  "properties": {
    "topicId": { "type": "string", "minLength": 1 },
    "content": { "type": "string", "minLength": 1 },
    "sender": { "type": "string" }
  },
  "additionalProperties": true
}`

const wsChatHistoryParamsSchema = `{
  "type": "object",
  "required": ["topicId"],
  "properties": {
    "topicId": { "type": "string", "minLength": 1 },
    "limit": { "type": "integer", "minimum": 1, "maximum": 500 }
  },
  "additionalProperties": true
}`

const wsApprovalResolveParamsSchema = `{
  "type": "object",
  "required": ["topicId", "approvalId", "result"],
  "properties": {
    "topicId": { "type": "string", "minLength": 1 },
    "approvalId": { "type": "string", "minLength": 1 },
    "result": { "enum": ["approved", "approved_and_remember", "rejected"] }
  },
  "additionalProperties": true
}`

const wsTopicsCreateParamsSchema = `{
  "type": "object",
  "required": ["title"],
  "properties": {
    "title": { "type": "string", "minLength": 1 },
    "agentId": { "type": "string" }
  },
  "additionalProperties": true
}`

const wsTopicsRenameParamsSchema = `{
  "type": "object",
  "required": ["topicId", "title"],
  "properties": {
    "topicId": { "type": "string", "minLength": 1 },
    "title": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const wsAgentsValidateParamsSchema = `{
  "type": "object",
  "required": ["agentId"],
  "properties": {
    "agentId": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const wsPushSubscribeParamsSchema = `{
  "type": "object",
  "required": ["userId", "subscription"],
  "properties": {
    "userId": { "type": "string", "minLength": 1 },
    "subscription": {
      "type": "object",
      "required": ["endpoint"],
      "properties": {
        "endpoint": { "type": "string", "minLength": 1 },
        "keys": {
          "type": "object",
          "properties": {
            "p256dh": { "type": "string" },
            "auth": { "type": "string" }
          },
          "additionalProperties": true
        }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

const wsPushUnsubscribeParamsSchema = `{
  "type": "object",
  "required": ["userId", "endpoint"],
  "properties": {
    "userId": { "type": "string", "minLength": 1 },
    "endpoint": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const wsResourceParamsSchema = `{
  "type": "object",
  "required": ["uri"],
  "properties": {
    "uri": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`
