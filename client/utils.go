package client

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/richinsley/comfytryon/graphapi"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// GetPngMetadata returns the tEXt chunks of a PNG keyed by keyword.  ComfyUI stores the
// API-format prompt under "prompt" and the UI workflow under "workflow".
func GetPngMetadata(r io.Reader) (map[string]string, error) {
	header := make([]byte, 8)
	_, err := io.ReadFull(r, header)
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(header, pngSignature) {
		return nil, errors.New("not a valid PNG file")
	}

	txtChunks := make(map[string]string)

	for {
		var length uint32
		err = binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		chunkType := make([]byte, 4)
		_, err = io.ReadFull(r, chunkType)
		if err != nil {
			return nil, err
		}

		switch string(chunkType) {
		case "IEND":
			return txtChunks, nil
		case "tEXt":
			chunkData := make([]byte, length)
			_, err = io.ReadFull(r, chunkData)
			if err != nil {
				return nil, err
			}

			keywordEnd := bytes.IndexByte(chunkData, 0)
			if keywordEnd == -1 {
				return nil, errors.New("malformed tEXt chunk")
			}

			keyword := string(chunkData[:keywordEnd])
			txtChunks[keyword] = string(chunkData[keywordEnd+1:])
		default:
			// Skip the chunk data if it's not tEXt
			_, err = io.CopyN(io.Discard, r, int64(length))
			if err != nil {
				return nil, err
			}
		}

		// Skip the CRC
		_, err = io.CopyN(io.Discard, r, 4)
		if err != nil {
			return nil, err
		}
	}

	return txtChunks, nil
}

// GetPngPrompt returns the API-format prompt embedded in a PNG written by SaveImage
func GetPngPrompt(r io.Reader) (*graphapi.Prompt, error) {
	meta, err := GetPngMetadata(r)
	if err != nil {
		return nil, err
	}
	data, ok := meta["prompt"]
	if !ok {
		return nil, errors.New("png has no prompt metadata")
	}
	// keep seeds above 2^53 exact
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	prompt := &graphapi.Prompt{}
	if err := dec.Decode(&prompt.Nodes); err != nil {
		return nil, err
	}
	return prompt, nil
}
