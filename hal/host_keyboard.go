//go:build !tinygo && cgo

package hal

import (
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

type hostKeyboard struct {
	ch chan KeyEvent
}

func newHostKeyboard() *hostKeyboard {
	return &hostKeyboard{ch: make(chan KeyEvent, 64)}
}

func (k *hostKeyboard) Events() <-chan KeyEvent { return k.ch }

var keyCodes = []struct {
	key  ebiten.Key
	code KeyCode
}{
	{ebiten.KeyEnter, KeyEnter},
	{ebiten.KeyEscape, KeyEscape},
	{ebiten.KeyBackspace, KeyBackspace},
	{ebiten.KeyTab, KeyTab},
}

func (k *hostKeyboard) emit(ev KeyEvent) {
	select {
	case k.ch <- ev:
	default:
	}
}

func (k *hostKeyboard) poll() {
	ctrl := ebiten.IsKeyPressed(ebiten.KeyControlLeft) || ebiten.IsKeyPressed(ebiten.KeyControlRight)
	if ctrl {
		// Ctrl-C and Ctrl-D arrive as control runes.
		if inpututil.IsKeyJustPressed(ebiten.KeyC) {
			k.emit(KeyEvent{Press: true, Rune: 0x03})
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyD) {
			k.emit(KeyEvent{Press: true, Rune: 0x04})
		}
	}

	for _, r := range ebiten.AppendInputChars(nil) {
		k.emit(KeyEvent{Press: true, Rune: r})
	}

	for _, kc := range keyCodes {
		if inpututil.IsKeyJustPressed(kc.key) {
			k.emit(KeyEvent{Code: kc.code, Press: true})
		}
		if inpututil.IsKeyJustReleased(kc.key) {
			k.emit(KeyEvent{Code: kc.code, Press: false})
		}
	}
}
