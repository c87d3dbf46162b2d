package config

var schema = `
{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "title": "mkdisk image description",
  "type": "object",
  "additionalProperties": false,
  "required": ["name", "size"],
  "definitions": {
    "size": {
      "oneOf": [
        {"type": "string", "minLength": 1},
        {"type": "integer", "minimum": 0}
      ]
    },
    "sector": {"type": "integer"},
    "source": {"type": "string", "minLength": 1},
    "tarball": {
      "type": "object",
      "additionalProperties": false,
      "required": ["source"],
      "properties": {
        "source": {"$ref": "#/definitions/source"},
        "target": {"type": "string"},
        "compression": {"type": "string"}
      }
    },
    "tarballs": {"type": "array", "items": {"$ref": "#/definitions/tarball"}},
    "upload": {
      "type": "object",
      "additionalProperties": false,
      "required": ["source", "target"],
      "properties": {
        "source": {"$ref": "#/definitions/source"},
        "target": {"type": "string", "minLength": 1}
      }
    },
    "uploads": {"type": "array", "items": {"$ref": "#/definitions/upload"}},
    "write": {
      "type": "object",
      "additionalProperties": false,
      "required": ["target", "content"],
      "properties": {
        "target": {"type": "string", "minLength": 1},
        "content": {"type": "string"},
        "mode": {"type": "string", "pattern": "^0?[0-7]{3,4}$"}
      }
    },
    "writes": {"type": "array", "items": {"$ref": "#/definitions/write"}},
    "binary": {
      "type": "object",
      "additionalProperties": false,
      "required": ["source"],
      "properties": {
        "source": {"$ref": "#/definitions/source"},
        "offset": {"$ref": "#/definitions/size"}
      }
    },
    "binaries": {"type": "array", "items": {"$ref": "#/definitions/binary"}},
    "part": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "filesystem": {"type": "string"},
        "type": {"enum": ["p", "e", "l"]},
        "start": {"$ref": "#/definitions/sector"},
        "end": {"$ref": "#/definitions/sector"},
        "size": {"$ref": "#/definitions/size"},
        "mbr_id": {
          "oneOf": [
            {"type": "string", "minLength": 1},
            {"type": "integer", "minimum": 0, "maximum": 255}
          ]
        },
        "gpt_type": {"type": "string"},
        "label": {"type": "string"},
        "active": {"type": "boolean"},
        "block_size": {"type": "integer", "minimum": 0},
        "raw_image": {"$ref": "#/definitions/source"},
        "tarballs": {"$ref": "#/definitions/tarballs"},
        "uploads": {"$ref": "#/definitions/uploads"},
        "writes": {"$ref": "#/definitions/writes"},
        "binaries": {"$ref": "#/definitions/binaries"}
      }
    }
  },
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string"},
    "size": {"$ref": "#/definitions/size"},
    "image_format": {"enum": ["raw", "qcow2"]},
    "partition_table": {"enum": ["mbr", "gpt", "hybrid", "raw"]},
    "parts": {"type": "array", "items": {"$ref": "#/definitions/part"}},
    "binaries": {"$ref": "#/definitions/binaries"}
  }
}
`
