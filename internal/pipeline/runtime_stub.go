//go:build !govips || !cgo

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

func CodecName() string {
	return "imaging"
}

func newCodec() (Codec, error) {
	return imagingCodec{}, nil
}
